package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func (s *Storage) InsertFirmwareRelease(ctx context.Context, release types.FirmwareRelease) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO firmware_releases (firmware_id, version, device_type, bundle_url, checksum, size_bytes, policy_id, server_signature)
		VALUES (@firmware_id, @version, @device_type, @bundle_url, @checksum, @size_bytes, @policy_id, @server_signature)
	`, pgx.NamedArgs{
		"firmware_id":      release.FirmwareID,
		"version":          release.Version,
		"device_type":      release.DeviceType,
		"bundle_url":       release.BundleURLTemplate,
		"checksum":         release.Checksum,
		"size_bytes":       release.SizeBytes,
		"policy_id":        nilIfEmpty(release.PolicyID),
		"server_signature": release.ServerSignature,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}

	return nil
}

func (s *Storage) GetFirmwareRelease(ctx context.Context, firmwareID string) (types.FirmwareRelease, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT firmware_id, version, device_type, bundle_url, checksum, size_bytes, policy_id, server_signature, created_at, deprecated_at
		FROM firmware_releases
		WHERE firmware_id = @firmware_id
	`, pgx.NamedArgs{"firmware_id": firmwareID})

	release, err := scanFirmwareRelease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.FirmwareRelease{}, ErrNoRows
		}
		return types.FirmwareRelease{}, err
	}

	return release, nil
}

// LatestFirmwareRelease returns the newest non deprecated release for
// a device type. A policy scoped release wins over an unscoped one
// when the device carries that policy.
func (s *Storage) LatestFirmwareRelease(ctx context.Context, deviceType, policyID string) (types.FirmwareRelease, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT firmware_id, version, device_type, bundle_url, checksum, size_bytes, policy_id, server_signature, created_at, deprecated_at
		FROM firmware_releases
		WHERE device_type = @device_type
		  AND deprecated_at IS NULL
		  AND (policy_id IS NULL OR policy_id = @policy_id)
		ORDER BY (policy_id IS NOT NULL) DESC, created_at DESC
		LIMIT 1
	`, pgx.NamedArgs{
		"device_type": deviceType,
		"policy_id":   policyID,
	})

	release, err := scanFirmwareRelease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.FirmwareRelease{}, ErrNoRows
		}
		return types.FirmwareRelease{}, err
	}

	return release, nil
}

func (s *Storage) QueryFirmwareReleases(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.FirmwareRelease], error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT firmware_id, version, device_type, bundle_url, checksum, size_bytes, policy_id, server_signature, created_at, deprecated_at, count(*) OVER () AS total
		FROM firmware_releases
		WHERE %s
		ORDER BY created_at DESC
		%s
	`, condition.Where(), condition.OffsetLimit())

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.FirmwareRelease]{}, err
	}
	defer rows.Close()

	releases := make([]types.FirmwareRelease, 0)
	var total int64

	for rows.Next() {
		var release types.FirmwareRelease
		var policyID *string

		err := rows.Scan(&release.FirmwareID, &release.Version, &release.DeviceType, &release.BundleURLTemplate,
			&release.Checksum, &release.SizeBytes, &policyID, &release.ServerSignature, &release.CreatedAt, &release.DeprecatedAt, &total)
		if err != nil {
			return types.Collection[types.FirmwareRelease]{}, err
		}

		if policyID != nil {
			release.PolicyID = *policyID
		}

		releases = append(releases, release)
	}
	if rows.Err() != nil {
		return types.Collection[types.FirmwareRelease]{}, rows.Err()
	}

	return types.Collection[types.FirmwareRelease]{
		Data:       releases,
		Count:      uint64(len(releases)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(total),
	}, nil
}

func (s *Storage) DeprecateFirmwareRelease(ctx context.Context, firmwareID string, when time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE firmware_releases
		SET deprecated_at = @when
		WHERE firmware_id = @firmware_id AND deprecated_at IS NULL
	`, pgx.NamedArgs{
		"firmware_id": firmwareID,
		"when":        when.UTC(),
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}

	return nil
}

// SetDeviceFirmwareStatus upserts a device's progress against one
// firmware release.
func (s *Storage) SetDeviceFirmwareStatus(ctx context.Context, status types.DeviceFirmwareStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_firmware_status (device_id, firmware_id, status, message, updated_at)
		VALUES (@device_id, @firmware_id, @status, @message, @updated_at)
		ON CONFLICT (device_id, firmware_id) DO UPDATE
		SET status = @status, message = @message, updated_at = @updated_at
	`, pgx.NamedArgs{
		"device_id":   status.DeviceID,
		"firmware_id": status.FirmwareID,
		"status":      status.Status,
		"message":     status.Message,
		"updated_at":  status.UpdatedAt.UTC(),
	})
	return err
}

func (s *Storage) GetDeviceFirmwareStatus(ctx context.Context, deviceID string) ([]types.DeviceFirmwareStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, firmware_id, status, message, updated_at
		FROM device_firmware_status
		WHERE device_id = @device_id
		ORDER BY updated_at DESC
	`, pgx.NamedArgs{"device_id": deviceID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make([]types.DeviceFirmwareStatus, 0)

	for rows.Next() {
		var st types.DeviceFirmwareStatus
		var message *string

		if err := rows.Scan(&st.DeviceID, &st.FirmwareID, &st.Status, &message, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if message != nil {
			st.Message = *message
		}

		statuses = append(statuses, st)
	}

	return statuses, rows.Err()
}

func scanFirmwareRelease(row deviceRow) (types.FirmwareRelease, error) {
	var release types.FirmwareRelease
	var policyID *string

	err := row.Scan(&release.FirmwareID, &release.Version, &release.DeviceType, &release.BundleURLTemplate,
		&release.Checksum, &release.SizeBytes, &policyID, &release.ServerSignature, &release.CreatedAt, &release.DeprecatedAt)
	if err != nil {
		return types.FirmwareRelease{}, err
	}

	if policyID != nil {
		release.PolicyID = *policyID
	}

	return release, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
