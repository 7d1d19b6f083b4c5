package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

// CreateOrUpdateDevice upserts a device row keyed on device_id and
// reports whether the device was newly created. A revoked device is
// never resurrected by an upsert.
func (s *Storage) CreateOrUpdateDevice(ctx context.Context, device types.Device) (bool, error) {
	capabilities, _ := json.Marshal(device.Capabilities)

	args := pgx.NamedArgs{
		"device_id":        device.DeviceID,
		"tenant":           device.Tenant,
		"device_type":      device.DeviceType,
		"public_key":       device.PublicKeyPEM,
		"capabilities":     string(capabilities),
		"firmware_version": device.FirmwareVersion,
		"policy_id":        device.PolicyID,
	}

	var created bool

	err := s.pool.QueryRow(ctx, `
		INSERT INTO devices (device_id, tenant, device_type, public_key, capabilities, firmware_version, policy_id, last_seen)
		VALUES (@device_id, @tenant, @device_type, @public_key, @capabilities, @firmware_version, @policy_id, CURRENT_TIMESTAMP)
		ON CONFLICT (device_id) DO UPDATE
		SET device_type = @device_type, public_key = @public_key, capabilities = @capabilities,
			firmware_version = @firmware_version, policy_id = @policy_id,
			last_seen = CURRENT_TIMESTAMP, modified_on = CURRENT_TIMESTAMP
		WHERE devices.status <> 'revoked'
		RETURNING (created_on = modified_on)
	`, args).Scan(&created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// the upsert hit a revoked row and updated nothing
			return false, ErrNoRows
		}
		return false, err
	}

	return created, nil
}

func (s *Storage) GetDevice(ctx context.Context, conditions ...ConditionFunc) (types.Device, error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT device_id, tenant, device_type, public_key, capabilities, firmware_version, status, policy_id, last_seen, created_on
		FROM devices
		WHERE %s
	`, condition.Where())

	row := s.pool.QueryRow(ctx, query, condition.NamedArgs())

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Device{}, ErrNoRows
		}
		return types.Device{}, err
	}

	return device, nil
}

func (s *Storage) QueryDevices(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Device], error) {
	condition := newCondition(conditions...)

	query := fmt.Sprintf(`
		SELECT device_id, tenant, device_type, public_key, capabilities, firmware_version, status, policy_id, last_seen, created_on, count(*) OVER () AS total
		FROM devices
		WHERE %s
		ORDER BY %s %s
		%s
	`, condition.Where(), condition.SortBy("device_id"), condition.SortOrder(), condition.OffsetLimit())

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.Device]{}, err
	}
	defer rows.Close()

	devices := make([]types.Device, 0)
	var total int64

	for rows.Next() {
		device, t, err := scanDeviceWithTotal(rows)
		if err != nil {
			return types.Collection[types.Device]{}, err
		}
		total = t
		devices = append(devices, device)
	}
	if rows.Err() != nil {
		return types.Collection[types.Device]{}, rows.Err()
	}

	return types.Collection[types.Device]{
		Data:       devices,
		Count:      uint64(len(devices)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(total),
	}, nil
}

func (s *Storage) UpdateDeviceLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE devices
		SET last_seen = @last_seen, modified_on = CURRENT_TIMESTAMP
		WHERE device_id = @device_id
	`, pgx.NamedArgs{
		"device_id": deviceID,
		"last_seen": seenAt.UTC(),
	})
	return err
}

func (s *Storage) SetDeviceFirmwareVersion(ctx context.Context, deviceID, version string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE devices
		SET firmware_version = @version, modified_on = CURRENT_TIMESTAMP
		WHERE device_id = @device_id
	`, pgx.NamedArgs{
		"device_id": deviceID,
		"version":   version,
	})
	return err
}

// RevokeDevice marks a device revoked. Revocation is terminal.
func (s *Storage) RevokeDevice(ctx context.Context, deviceID, tenant string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE devices
		SET status = 'revoked', modified_on = CURRENT_TIMESTAMP
		WHERE device_id = @device_id AND tenant = @tenant
	`, pgx.NamedArgs{
		"device_id": deviceID,
		"tenant":    tenant,
	})
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}

	return nil
}

type deviceRow interface {
	Scan(dest ...any) error
}

func scanDevice(row deviceRow) (types.Device, error) {
	var device types.Device
	var capabilities []byte
	var firmwareVersion, policyID *string
	var lastSeen *time.Time

	err := row.Scan(&device.DeviceID, &device.Tenant, &device.DeviceType, &device.PublicKeyPEM,
		&capabilities, &firmwareVersion, &device.Status, &policyID, &lastSeen, &device.RegisteredAt)
	if err != nil {
		return types.Device{}, err
	}

	if len(capabilities) > 0 {
		json.Unmarshal(capabilities, &device.Capabilities)
	}
	if firmwareVersion != nil {
		device.FirmwareVersion = *firmwareVersion
	}
	if policyID != nil {
		device.PolicyID = *policyID
	}
	if lastSeen != nil {
		device.LastSeen = *lastSeen
	}

	return device, nil
}

func scanDeviceWithTotal(rows pgx.Rows) (types.Device, int64, error) {
	var device types.Device
	var capabilities []byte
	var firmwareVersion, policyID *string
	var lastSeen *time.Time
	var total int64

	err := rows.Scan(&device.DeviceID, &device.Tenant, &device.DeviceType, &device.PublicKeyPEM,
		&capabilities, &firmwareVersion, &device.Status, &policyID, &lastSeen, &device.RegisteredAt, &total)
	if err != nil {
		return types.Device{}, 0, err
	}

	if len(capabilities) > 0 {
		json.Unmarshal(capabilities, &device.Capabilities)
	}
	if firmwareVersion != nil {
		device.FirmwareVersion = *firmwareVersion
	}
	if policyID != nil {
		device.PolicyID = *policyID
	}
	if lastSeen != nil {
		device.LastSeen = *lastSeen
	}

	return device, total, nil
}
