package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func TestRegisterNewDevice(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()

	svc := New(store, hooks.New())

	reg, err := svc.Register(context.Background(), testDevice(t))
	is.NoErr(err)
	is.True(reg.Created)
	is.Equal(len(store.CreateOrUpdateDeviceCalls()), 1)
}

func TestRegisterRejectsUnknownDeviceType(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()

	svc := New(store, hooks.New())

	device := testDevice(t)
	device.DeviceType = "TOASTER"

	_, err := svc.Register(context.Background(), device)
	is.True(errors.Is(err, ErrInvalidDeviceType))
	is.Equal(len(store.CreateOrUpdateDeviceCalls()), 0)
}

func TestRegisterRejectsBadPublicKey(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()

	svc := New(store, hooks.New())

	device := testDevice(t)
	device.PublicKeyPEM = "not a pem block"

	_, err := svc.Register(context.Background(), device)
	is.True(errors.Is(err, ErrInvalidPublicKey))
}

func TestRegisterDoesNotResurrectRevokedDevice(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()
	store.CreateOrUpdateDeviceFunc = func(ctx context.Context, device types.Device) (bool, error) {
		return false, storage.ErrNoRows
	}

	svc := New(store, hooks.New())

	_, err := svc.Register(context.Background(), testDevice(t))
	is.True(errors.Is(err, ErrDeviceRevoked))
}

func TestHeartbeatReportsPendingWorkAndFirmware(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()
	store.PendingCommandsFunc = func(ctx context.Context, deviceID string, now time.Time) ([]types.Command, error) {
		return []types.Command{{CommandID: "cmd_1"}, {CommandID: "cmd_2"}}, nil
	}
	store.LatestFirmwareReleaseFunc = func(ctx context.Context, deviceType, policyID string) (types.FirmwareRelease, error) {
		return types.FirmwareRelease{FirmwareID: "fw_9", Version: "2.1.0"}, nil
	}

	svc := New(store, hooks.New())

	device := testDevice(t)
	device.FirmwareVersion = "2.0.0"

	hb, err := svc.HandleHeartbeat(context.Background(), device, "2.0.0", time.Now())
	is.NoErr(err)
	is.Equal(hb.PendingCommands, 2)
	is.Equal(hb.CommandIDs, []string{"cmd_1", "cmd_2"})
	is.True(hb.FirmwareUpdate)
	is.Equal(hb.FirmwareVersion, "2.1.0")
	is.Equal(len(store.UpdateDeviceLastSeenCalls()), 1)
}

func TestHeartbeatRecordsReportedFirmwareVersion(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()

	svc := New(store, hooks.New())

	device := testDevice(t)
	device.FirmwareVersion = "1.0.0"

	hb, err := svc.HandleHeartbeat(context.Background(), device, "1.1.0", time.Now())
	is.NoErr(err)
	is.Equal(len(store.SetDeviceFirmwareVersionCalls()), 1)
	is.Equal(store.SetDeviceFirmwareVersionCalls()[0].Version, "1.1.0")
	is.Equal(hb.FirmwareUpdate, false) // no release on record
}

func TestRevokeExpiresPendingCommands(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()

	var revokedEvents int
	bus := hooks.New()
	bus.Subscribe(types.HookDeviceRevoked, func(ctx context.Context, payload any) error {
		revokedEvents++
		return nil
	})

	svc := New(store, bus)

	err := svc.Revoke(context.Background(), "dev_1", []string{"acme"})
	is.NoErr(err)
	is.Equal(len(store.RevokeDeviceCalls()), 1)
	is.Equal(len(store.ExpirePendingCommandsForDeviceCalls()), 1)
	is.Equal(revokedEvents, 1)
}

func TestRevokeAlreadyRevokedIsNoop(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()
	store.GetDeviceFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error) {
		return types.Device{DeviceID: "dev_1", Tenant: "acme", Status: types.DeviceStatusRevoked}, nil
	}

	svc := New(store, hooks.New())

	err := svc.Revoke(context.Background(), "dev_1", []string{"acme"})
	is.NoErr(err)
	is.Equal(len(store.RevokeDeviceCalls()), 0)
}

func TestBulkRevokeSkipsUnknownDevices(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()
	store.GetDeviceFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error) {
		c := &storage.Condition{}
		for _, f := range conditions {
			f(c)
		}
		if c.DeviceID == "dev_missing" {
			return types.Device{}, storage.ErrNoRows
		}
		return types.Device{DeviceID: c.DeviceID, Tenant: "acme", Status: types.DeviceStatusActive}, nil
	}

	svc := New(store, hooks.New())

	count, err := svc.BulkRevoke(context.Background(), []string{"dev_1", "dev_missing", "dev_2"}, []string{"acme"})
	is.NoErr(err)
	is.Equal(count, 2)
}

func TestAddLogsStampsDeviceAndTenant(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()

	svc := New(store, hooks.New())

	err := svc.AddLogs(context.Background(), types.Device{DeviceID: "dev_1", Tenant: "acme"}, []types.DeviceLogEntry{
		{Level: "ERROR", Message: "sensor offline", LoggedAt: time.Now()},
	})
	is.NoErr(err)

	entries := store.AddDeviceLogsCalls()[0].Entries
	is.Equal(entries[0].DeviceID, "dev_1")
	is.Equal(entries[0].Tenant, "acme")
}

func newMockStorage() *DeviceStorageMock {
	return &DeviceStorageMock{
		CreateOrUpdateDeviceFunc: func(ctx context.Context, device types.Device) (bool, error) {
			return true, nil
		},
		GetDeviceFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error) {
			return types.Device{DeviceID: "dev_1", Tenant: "acme", Status: types.DeviceStatusActive}, nil
		},
		QueryDevicesFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Device], error) {
			return types.Collection[types.Device]{}, nil
		},
		UpdateDeviceLastSeenFunc: func(ctx context.Context, deviceID string, seenAt time.Time) error {
			return nil
		},
		SetDeviceFirmwareVersionFunc: func(ctx context.Context, deviceID, version string) error {
			return nil
		},
		RevokeDeviceFunc: func(ctx context.Context, deviceID, tenant string) error {
			return nil
		},
		ExpirePendingCommandsForDeviceFunc: func(ctx context.Context, deviceID string) (int64, error) {
			return 0, nil
		},
		PendingCommandsFunc: func(ctx context.Context, deviceID string, now time.Time) ([]types.Command, error) {
			return nil, nil
		},
		LatestFirmwareReleaseFunc: func(ctx context.Context, deviceType, policyID string) (types.FirmwareRelease, error) {
			return types.FirmwareRelease{}, storage.ErrNoRows
		},
		AddDeviceLogsFunc: func(ctx context.Context, entries []types.DeviceLogEntry) error {
			return nil
		},
		QueryDeviceLogsFunc: func(ctx context.Context, deviceID string, limit int) ([]types.DeviceLogEntry, error) {
			return nil, nil
		},
	}
}

func testDevice(t *testing.T) types.Device {
	t.Helper()

	pubPEM, _, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	return types.Device{
		DeviceID:     "dev_1",
		Tenant:       "acme",
		DeviceType:   types.DeviceTypeKiosk,
		PublicKeyPEM: pubPEM,
		Status:       types.DeviceStatusActive,
	}
}
