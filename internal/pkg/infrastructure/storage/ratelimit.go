package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// IncrementRateCounter bumps the fixed window counter for a device and
// endpoint and returns the count after the increment.
func (s *Storage) IncrementRateCounter(ctx context.Context, deviceID, endpoint string, windowStart time.Time) (int64, error) {
	var count int64

	err := s.pool.QueryRow(ctx, `
		INSERT INTO rate_counters (device_id, endpoint, window_start, count)
		VALUES (@device_id, @endpoint, @window_start, 1)
		ON CONFLICT (device_id, endpoint, window_start) DO UPDATE
		SET count = rate_counters.count + 1
		RETURNING count
	`, pgx.NamedArgs{
		"device_id":    deviceID,
		"endpoint":     endpoint,
		"window_start": windowStart.UTC(),
	}).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// PurgeRateCounters drops counters for windows that ended before the
// cutoff.
func (s *Storage) PurgeRateCounters(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM rate_counters WHERE window_start < @cutoff
	`, pgx.NamedArgs{"cutoff": cutoff.UTC()})
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}
