package store

import (
	"context"
	"strings"
	"time"
)

// AppendMessage records a relayed message. The log is append-only.
func (s *Store) AppendMessage(ctx context.Context, m *MessageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.CreatedAt = utc(m.CreatedAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO message_logs (from_device_id, to_device_id, msg_kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.FromDeviceID, m.ToDeviceID, string(m.Kind), m.Payload, m.CreatedAt)
	if err != nil {
		return err
	}

	m.ID, err = res.LastInsertId()
	return err
}

// CountMessages counts log rows touching any of deviceIDs, optionally
// narrowed to one device (filterID > 0).
func (s *Store) CountMessages(ctx context.Context, deviceIDs []int64, filterID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(deviceIDs) == 0 {
		return 0, nil
	}

	where, args := messageFilter(deviceIDs, filterID)

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_logs `+where, args...).Scan(&n)
	return n, err
}

// ListMessages returns log rows touching any of deviceIDs, newest first,
// optionally narrowed to one device (filterID > 0).
func (s *Store) ListMessages(ctx context.Context, deviceIDs []int64, filterID int64, limit, offset int) ([]MessageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(deviceIDs) == 0 {
		return nil, nil
	}

	where, args := messageFilter(deviceIDs, filterID)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_device_id, to_device_id, msg_kind, payload, created_at
		FROM message_logs `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []MessageLog
	for rows.Next() {
		var m MessageLog
		if err := rows.Scan(&m.ID, &m.FromDeviceID, &m.ToDeviceID, &m.Kind, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, m)
	}

	return logs, rows.Err()
}

// PurgeOldLogs deletes log rows older than cutoff and reports how many
// were removed. Invoked once at process start.
func (s *Store) PurgeOldLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM message_logs WHERE created_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// messageFilter builds the WHERE clause scoping message rows to the given
// devices.
func messageFilter(deviceIDs []int64, filterID int64) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(deviceIDs)), ", ")

	args := make([]any, 0, 2*len(deviceIDs)+2)
	for _, id := range deviceIDs {
		args = append(args, id)
	}
	for _, id := range deviceIDs {
		args = append(args, id)
	}

	where := `WHERE (from_device_id IN (` + placeholders + `) OR to_device_id IN (` + placeholders + `))`
	if filterID > 0 {
		where += ` AND (from_device_id = ? OR to_device_id = ?)`
		args = append(args, filterID, filterID)
	}

	return where, args
}
