package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreatePairingCode invalidates every unused code for the host and inserts
// the new one, in a single transaction. At most one live code exists per
// host at any instant.
func (s *Store) CreatePairingCode(ctx context.Context, pc *PairingCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc.CreatedAt = utc(pc.CreatedAt)
	pc.ExpiresAt = pc.ExpiresAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE pairing_codes SET used = 1
		WHERE host_device_id = ? AND used = 0
	`, pc.HostDeviceID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO pairing_codes (owner_user_id, host_device_id, code, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, pc.OwnerUserID, pc.HostDeviceID, pc.Code, pc.ExpiresAt, pc.CreatedAt)
	if err != nil {
		return err
	}

	pc.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ActiveCodeByValue finds an unused, unexpired pairing code by its value.
// Expired or used codes behave exactly like missing ones.
func (s *Store) ActiveCodeByValue(ctx context.Context, code string, now time.Time) (*PairingCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pc PairingCode
	var used int

	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, host_device_id, code, expires_at, used, created_at
		FROM pairing_codes
		WHERE code = ? AND used = 0 AND expires_at > ?
	`, code, now.UTC()).Scan(
		&pc.ID, &pc.OwnerUserID, &pc.HostDeviceID, &pc.Code, &pc.ExpiresAt, &used, &pc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pairing code: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	pc.Used = used != 0
	return &pc, nil
}

// MarkCodeUsed consumes a pairing code.
func (s *Store) MarkCodeUsed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE pairing_codes SET used = 1 WHERE id = ?
	`, id)
	return err
}

// ActiveCodeCountForHost counts live codes for a host. Used by invariant
// checks; the schema flow keeps this at zero or one.
func (s *Store) ActiveCodeCountForHost(ctx context.Context, hostDeviceID int64, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pairing_codes
		WHERE host_device_id = ? AND used = 0 AND expires_at > ?
	`, hostDeviceID, now.UTC()).Scan(&n)
	return n, err
}

// CreatePairing inserts a pairing and fills in its ID and CreatedAt.
// Returns ErrDuplicate when the (host, client) pair already exists.
func (s *Store) CreatePairing(ctx context.Context, p *Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.CreatedAt = utc(p.CreatedAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pairings (host_device_id, client_device_id, created_at)
		VALUES (?, ?, ?)
	`, p.HostDeviceID, p.ClientDeviceID, p.CreatedAt)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("pairing %d/%d: %w", p.HostDeviceID, p.ClientDeviceID, ErrDuplicate)
		}
		return err
	}

	p.ID, err = res.LastInsertId()
	return err
}

// PairingByDevices looks up the pairing between a host and a client.
func (s *Store) PairingByDevices(ctx context.Context, hostDeviceID, clientDeviceID int64) (*Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanPairing(s.db.QueryRowContext(ctx, `
		SELECT id, host_device_id, client_device_id, created_at
		FROM pairings WHERE host_device_id = ? AND client_device_id = ?
	`, hostDeviceID, clientDeviceID))
}

// FirstPairingForDevice returns the oldest pairing in which the device
// participates with the given role. Session frames without an explicit
// target resolve through this.
func (s *Store) FirstPairingForDevice(ctx context.Context, deviceID int64, role DeviceRole) (*Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	column := "client_device_id"
	if role == RoleHost {
		column = "host_device_id"
	}

	return s.scanPairing(s.db.QueryRowContext(ctx, `
		SELECT id, host_device_id, client_device_id, created_at
		FROM pairings WHERE `+column+` = ?
		ORDER BY id LIMIT 1
	`, deviceID))
}

// PairingsForDevice returns every pairing in which the device participates
// with the given role.
func (s *Store) PairingsForDevice(ctx context.Context, deviceID int64, role DeviceRole) ([]Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	column := "client_device_id"
	if role == RoleHost {
		column = "host_device_id"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, host_device_id, client_device_id, created_at
		FROM pairings WHERE `+column+` = ?
		ORDER BY id
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairings []Pairing
	for rows.Next() {
		var p Pairing
		if err := rows.Scan(&p.ID, &p.HostDeviceID, &p.ClientDeviceID, &p.CreatedAt); err != nil {
			return nil, err
		}
		pairings = append(pairings, p)
	}

	return pairings, rows.Err()
}

func (s *Store) scanPairing(row *sql.Row) (*Pairing, error) {
	var p Pairing

	err := row.Scan(&p.ID, &p.HostDeviceID, &p.ClientDeviceID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pairing: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}
