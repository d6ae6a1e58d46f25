package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateDevice inserts a device and fills in its ID and CreatedAt.
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.CreatedAt = utc(d.CreatedAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (owner_user_id, name, role, created_at)
		VALUES (?, ?, ?, ?)
	`, d.OwnerUserID, d.Name, string(d.Role), d.CreatedAt)
	if err != nil {
		return err
	}

	d.ID, err = res.LastInsertId()
	return err
}

// DeviceByID looks a device up by id.
func (s *Store) DeviceByID(ctx context.Context, id int64) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanDevice(s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, name, role, last_seen_at, created_at
		FROM devices WHERE id = ?
	`, id))
}

// OwnedDevice looks a device up by id, owner and role in one step. It is
// the authorization primitive behind pairing and session opens.
func (s *Store) OwnedDevice(ctx context.Context, id, ownerUserID int64, role DeviceRole) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanDevice(s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, name, role, last_seen_at, created_at
		FROM devices WHERE id = ? AND owner_user_id = ? AND role = ?
	`, id, ownerUserID, string(role)))
}

// DevicesByUser returns all devices of a user, oldest first.
func (s *Store) DevicesByUser(ctx context.Context, userID int64) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_user_id, name, role, last_seen_at, created_at
		FROM devices WHERE owner_user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var lastSeen sql.NullTime

		if err := rows.Scan(&d.ID, &d.OwnerUserID, &d.Name, &d.Role, &lastSeen, &d.CreatedAt); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			d.LastSeenAt = &lastSeen.Time
		}

		devices = append(devices, d)
	}

	return devices, rows.Err()
}

// FirstClientDevice returns the user's oldest device with role client.
func (s *Store) FirstClientDevice(ctx context.Context, userID int64) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanDevice(s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, name, role, last_seen_at, created_at
		FROM devices WHERE owner_user_id = ? AND role = 'client'
		ORDER BY id LIMIT 1
	`, userID))
}

// TouchLastSeen updates a device's last_seen_at timestamp.
func (s *Store) TouchLastSeen(ctx context.Context, deviceID int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET last_seen_at = ? WHERE id = ?
	`, utc(t), deviceID)
	return err
}

func (s *Store) scanDevice(row *sql.Row) (*Device, error) {
	var d Device
	var lastSeen sql.NullTime

	err := row.Scan(&d.ID, &d.OwnerUserID, &d.Name, &d.Role, &lastSeen, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("device: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if lastSeen.Valid {
		d.LastSeenAt = &lastSeen.Time
	}

	return &d, nil
}
