package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

var tracer = otel.Tracer("attendance-mgmt/devices")

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrDeviceRevoked = fmt.Errorf("device is revoked")
var ErrInvalidDeviceType = fmt.Errorf("invalid device type")
var ErrInvalidPublicKey = fmt.Errorf("invalid public key")

//go:generate moq -rm -out devicestorage_mock.go . DeviceStorage
type DeviceStorage interface {
	CreateOrUpdateDevice(ctx context.Context, device types.Device) (bool, error)
	GetDevice(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error)
	QueryDevices(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Device], error)
	UpdateDeviceLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error
	SetDeviceFirmwareVersion(ctx context.Context, deviceID, version string) error
	RevokeDevice(ctx context.Context, deviceID, tenant string) error
	ExpirePendingCommandsForDevice(ctx context.Context, deviceID string) (int64, error)
	PendingCommands(ctx context.Context, deviceID string, now time.Time) ([]types.Command, error)
	LatestFirmwareRelease(ctx context.Context, deviceType, policyID string) (types.FirmwareRelease, error)
	AddDeviceLogs(ctx context.Context, entries []types.DeviceLogEntry) error
	QueryDeviceLogs(ctx context.Context, deviceID string, limit int) ([]types.DeviceLogEntry, error)
}

// Registration is the outcome of a register call, used to render the
// REG and LAST response tokens.
type Registration struct {
	Device  types.Device
	Created bool
}

// Heartbeat summarizes what a device needs to know after checking in:
// how much pending work awaits and whether newer firmware exists.
type Heartbeat struct {
	PendingCommands int
	CommandIDs      []string
	FirmwareVersion string
	FirmwareUpdate  bool
}

type DeviceManagement interface {
	Register(ctx context.Context, device types.Device) (Registration, error)
	GetDevice(ctx context.Context, deviceID string, tenants []string) (types.Device, error)
	Query(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Device], error)
	HandleHeartbeat(ctx context.Context, device types.Device, reportedFirmware string, seenAt time.Time) (Heartbeat, error)
	Revoke(ctx context.Context, deviceID string, tenants []string) error
	BulkRevoke(ctx context.Context, deviceIDs []string, tenants []string) (int, error)
	AddLogs(ctx context.Context, device types.Device, entries []types.DeviceLogEntry) error
	GetLogs(ctx context.Context, deviceID string, tenants []string, limit int) ([]types.DeviceLogEntry, error)
}

type service struct {
	storage DeviceStorage
	hooks   hooks.Bus
}

func New(storage DeviceStorage, bus hooks.Bus) DeviceManagement {
	return &service{
		storage: storage,
		hooks:   bus,
	}
}

// Register creates a device on first contact and updates it on
// re-registration. A revoked device id stays dead.
func (s *service) Register(ctx context.Context, device types.Device) (Registration, error) {
	var err error
	ctx, span := tracer.Start(ctx, "register-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if !types.IsValidDeviceType(device.DeviceType) {
		err = fmt.Errorf("%w: %s", ErrInvalidDeviceType, device.DeviceType)
		return Registration{}, err
	}

	if _, keyErr := keys.DecodePublicKeyPEM(device.PublicKeyPEM); keyErr != nil {
		err = errors.Join(ErrInvalidPublicKey, keyErr)
		return Registration{}, err
	}

	created, err := s.storage.CreateOrUpdateDevice(ctx, device)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			err = ErrDeviceRevoked
		}
		return Registration{}, err
	}

	stored, err := s.storage.GetDevice(ctx, storage.WithDeviceID(device.DeviceID))
	if err != nil {
		return Registration{}, err
	}

	if created {
		s.hooks.Emit(ctx, types.HookDeviceRegistered, stored)
	}

	return Registration{Device: stored, Created: created}, nil
}

func (s *service) GetDevice(ctx context.Context, deviceID string, tenants []string) (types.Device, error) {
	device, err := s.storage.GetDevice(ctx, storage.WithDeviceID(deviceID), storage.WithTenants(tenants))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return types.Device{}, ErrDeviceNotFound
		}
		return types.Device{}, err
	}

	return device, nil
}

func (s *service) Query(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Device], error) {
	return s.storage.QueryDevices(ctx, conditions...)
}

// HandleHeartbeat refreshes last-seen, records the firmware version
// the device reports, and gathers the poll hints for the response.
func (s *service) HandleHeartbeat(ctx context.Context, device types.Device, reportedFirmware string, seenAt time.Time) (Heartbeat, error) {
	var err error
	ctx, span := tracer.Start(ctx, "device-heartbeat")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	err = s.storage.UpdateDeviceLastSeen(ctx, device.DeviceID, seenAt)
	if err != nil {
		return Heartbeat{}, err
	}

	if reportedFirmware != "" && reportedFirmware != device.FirmwareVersion {
		if fwErr := s.storage.SetDeviceFirmwareVersion(ctx, device.DeviceID, reportedFirmware); fwErr != nil {
			log.Error("failed to record reported firmware version", "device_id", device.DeviceID, "err", fwErr.Error())
		} else {
			device.FirmwareVersion = reportedFirmware
		}
	}

	hb := Heartbeat{}

	pending, err := s.storage.PendingCommands(ctx, device.DeviceID, seenAt)
	if err != nil {
		return Heartbeat{}, err
	}

	hb.PendingCommands = len(pending)
	for _, cmd := range pending {
		hb.CommandIDs = append(hb.CommandIDs, cmd.CommandID)
	}

	release, err := s.storage.LatestFirmwareRelease(ctx, device.DeviceType, device.PolicyID)
	if err == nil && release.Version != device.FirmwareVersion {
		hb.FirmwareUpdate = true
		hb.FirmwareVersion = release.Version
	} else if err != nil && !errors.Is(err, storage.ErrNoRows) {
		return Heartbeat{}, err
	}
	err = nil

	s.hooks.Emit(ctx, types.HookDeviceHeartbeat, device)

	return hb, nil
}

// Revoke is terminal. Pending commands die with the device so the
// queue cannot be drained by a compromised unit.
func (s *service) Revoke(ctx context.Context, deviceID string, tenants []string) error {
	var err error
	ctx, span := tracer.Start(ctx, "revoke-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	device, err := s.storage.GetDevice(ctx, storage.WithDeviceID(deviceID), storage.WithTenants(tenants))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			err = ErrDeviceNotFound
		}
		return err
	}

	if device.Revoked() {
		return nil
	}

	err = s.storage.RevokeDevice(ctx, deviceID, device.Tenant)
	if err != nil {
		return err
	}

	expired, err := s.storage.ExpirePendingCommandsForDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	log := logging.GetFromContext(ctx)
	if expired > 0 {
		log.Info("expired pending commands on revocation", "device_id", deviceID, "count", expired)
	}

	s.hooks.Emit(ctx, types.HookDeviceRevoked, device)

	return nil
}

func (s *service) BulkRevoke(ctx context.Context, deviceIDs []string, tenants []string) (int, error) {
	revoked := 0

	for _, id := range deviceIDs {
		err := s.Revoke(ctx, id, tenants)
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				continue
			}
			return revoked, err
		}
		revoked++
	}

	return revoked, nil
}

func (s *service) AddLogs(ctx context.Context, device types.Device, entries []types.DeviceLogEntry) error {
	for i := range entries {
		entries[i].DeviceID = device.DeviceID
		entries[i].Tenant = device.Tenant
	}

	return s.storage.AddDeviceLogs(ctx, entries)
}

func (s *service) GetLogs(ctx context.Context, deviceID string, tenants []string, limit int) ([]types.DeviceLogEntry, error) {
	_, err := s.GetDevice(ctx, deviceID, tenants)
	if err != nil {
		return nil, err
	}

	return s.storage.QueryDeviceLogs(ctx, deviceID, limit)
}
