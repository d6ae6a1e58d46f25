package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateUser inserts a user and fills in its ID and CreatedAt.
// Returns ErrDuplicate if the username or federated id is already taken.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.CreatedAt = utc(u.CreatedAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, email, federated_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.Username, u.PasswordHash, u.Email, u.FederatedID, u.CreatedAt)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
		}
		return err
	}

	u.ID, err = res.LastInsertId()
	return err
}

// UserByUsername looks a user up by exact username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, federated_id, created_at
		FROM users WHERE username = ?
	`, username))
}

// UserByID looks a user up by id.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, federated_id, created_at
		FROM users WHERE id = ?
	`, id))
}

// UserByFederatedID looks a user up by its federated identity subject.
func (s *Store) UserByFederatedID(ctx context.Context, federatedID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, federated_id, created_at
		FROM users WHERE federated_id = ?
	`, federatedID))
}

// UserByEmail looks a user up by email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, federated_id, created_at
		FROM users WHERE email = ?
	`, email))
}

// AttachFederatedID sets the federated identity subject on an existing user.
func (s *Store) AttachFederatedID(ctx context.Context, userID int64, federatedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET federated_id = ? WHERE id = ?
	`, federatedID, userID)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("federated id: %w", ErrDuplicate)
		}
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var passwordHash, email, federatedID sql.NullString

	err := row.Scan(&u.ID, &u.Username, &passwordHash, &email, &federatedID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if passwordHash.Valid {
		u.PasswordHash = &passwordHash.String
	}
	if email.Valid {
		u.Email = &email.String
	}
	if federatedID.Valid {
		u.FederatedID = &federatedID.String
	}

	return &u, nil
}
