package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

// AddDeviceLogs batches uploaded device log lines into one round trip.
func (s *Storage) AddDeviceLogs(ctx context.Context, entries []types.DeviceLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for _, entry := range entries {
		batch.Queue(`
			INSERT INTO device_logs (device_id, tenant, level, message, logged_at)
			VALUES (@device_id, @tenant, @level, @message, @logged_at)
		`, pgx.NamedArgs{
			"device_id": entry.DeviceID,
			"tenant":    entry.Tenant,
			"level":     entry.Level,
			"message":   entry.Message,
			"logged_at": entry.LoggedAt.UTC(),
		})
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}

func (s *Storage) QueryDeviceLogs(ctx context.Context, deviceID string, limit int) ([]types.DeviceLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT device_id, tenant, level, message, logged_at
		FROM device_logs
		WHERE device_id = @device_id
		ORDER BY logged_at DESC
		LIMIT @limit
	`, pgx.NamedArgs{
		"device_id": deviceID,
		"limit":     limit,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]types.DeviceLogEntry, 0)

	for rows.Next() {
		var entry types.DeviceLogEntry
		if err := rows.Scan(&entry.DeviceID, &entry.Tenant, &entry.Level, &entry.Message, &entry.LoggedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
