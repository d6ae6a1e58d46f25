package store

import (
	"context"
	"strings"
)

// EnqueuePending stores a command for a disconnected host.
func (s *Store) EnqueuePending(ctx context.Context, pc *PendingCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc.CreatedAt = utc(pc.CreatedAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_commands (host_device_id, from_device_id, payload, delivered, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, pc.HostDeviceID, pc.FromDeviceID, pc.Payload, pc.CreatedAt)
	if err != nil {
		return err
	}

	pc.ID, err = res.LastInsertId()
	return err
}

// PendingForHost returns the host's undelivered commands in insertion
// order. The drain sends them in this order and marks the delivered
// prefix afterwards.
func (s *Store) PendingForHost(ctx context.Context, hostDeviceID int64) ([]PendingCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, host_device_id, from_device_id, payload, delivered, created_at
		FROM pending_commands
		WHERE host_device_id = ? AND delivered = 0
		ORDER BY created_at, id
	`, hostDeviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingCommand
	for rows.Next() {
		var pc PendingCommand
		var delivered int

		if err := rows.Scan(&pc.ID, &pc.HostDeviceID, &pc.FromDeviceID, &pc.Payload, &delivered, &pc.CreatedAt); err != nil {
			return nil, err
		}
		pc.Delivered = delivered != 0

		pending = append(pending, pc)
	}

	return pending, rows.Err()
}

// MarkPendingDelivered flags the given commands as delivered in one
// statement.
func (s *Store) MarkPendingDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_commands SET delivered = 1 WHERE id IN (`+placeholders+`)
	`, args...)
	return err
}
