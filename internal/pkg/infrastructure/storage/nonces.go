package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// MarkNonce records a nonce hash for a device. The unique constraint
// on (nonce_hash, device_id) is the source of truth for replay
// detection; a violation is reported as ErrNonceReused.
func (s *Storage) MarkNonce(ctx context.Context, deviceID, nonceHash string, usedAt, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_nonces (device_id, nonce_hash, used_at, expires_at)
		VALUES (@device_id, @nonce_hash, @used_at, @expires_at)
	`, pgx.NamedArgs{
		"device_id":  deviceID,
		"nonce_hash": nonceHash,
		"used_at":    usedAt.UTC(),
		"expires_at": expiresAt.UTC(),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNonceReused
		}
		return err
	}

	return nil
}

// PurgeExpiredNonces removes nonce rows past their expiry and returns
// the number of rows deleted.
func (s *Storage) PurgeExpiredNonces(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM device_nonces WHERE expires_at < @now
	`, pgx.NamedArgs{"now": now.UTC()})
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}
