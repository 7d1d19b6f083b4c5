package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

// These tests require a local postgres instance and are skipped when
// none is reachable.
func testSetup(t *testing.T) (context.Context, *Storage) {
	t.Helper()
	ctx := context.Background()

	config := Config{
		host:     "localhost",
		user:     "postgres",
		password: "password",
		port:     "5432",
		dbname:   "postgres",
		sslmode:  "disable",
	}

	s, err := New(ctx, config)
	if err != nil {
		t.SkipNow()
	}

	err = s.Initialize(ctx)
	if err != nil {
		t.SkipNow()
	}

	return ctx, s
}

func TestCreateAndGetDevice(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	device := types.Device{
		DeviceID:     uuid.NewString(),
		Tenant:       "default",
		DeviceType:   types.DeviceTypeKiosk,
		PublicKeyPEM: "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----",
		Capabilities: []string{types.CapabilityFace},
		Status:       types.DeviceStatusActive,
	}

	created, err := s.CreateOrUpdateDevice(ctx, device)
	is.NoErr(err)
	is.True(created)

	stored, err := s.GetDevice(ctx, WithDeviceID(device.DeviceID))
	is.NoErr(err)
	is.Equal(stored.DeviceType, types.DeviceTypeKiosk)
	is.Equal(stored.Capabilities, []string{types.CapabilityFace})

	created, err = s.CreateOrUpdateDevice(ctx, device)
	is.NoErr(err)
	is.True(!created)
}

func TestDuplicateEventInsertFails(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	event := types.AttendanceEvent{
		EventID:    uuid.NewString(),
		EmployeeID: "emp_1",
		EventType:  types.EventTypeIn,
		Timestamp:  time.Now().UTC(),
		DeviceID:   "dev_storage_test",
		Tenant:     "default",
		Status:     types.EventStatusProcessed,
	}
	audit := types.AuditRecord{
		AuditID:  uuid.NewString(),
		DeviceID: event.DeviceID,
		Tenant:   event.Tenant,
		Endpoint: "/devices/events",
		Payload:  "A1:" + event.EventID,
		Status:   "accepted",
	}

	is.NoErr(s.InsertEventAndAudit(ctx, event, audit))

	audit.AuditID = uuid.NewString()
	err := s.InsertEventAndAudit(ctx, event, audit)
	is.True(errors.Is(err, ErrAlreadyExists))
}

func TestNonceCanOnlyBeMarkedOnce(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	deviceID := uuid.NewString()
	hash := uuid.NewString()
	now := time.Now().UTC()

	is.NoErr(s.MarkNonce(ctx, deviceID, hash, now, now.Add(24*time.Hour)))

	err := s.MarkNonce(ctx, deviceID, hash, now, now.Add(24*time.Hour))
	is.True(errors.Is(err, ErrNonceReused))

	// a different device may reuse the same nonce value
	is.NoErr(s.MarkNonce(ctx, uuid.NewString(), hash, now, now.Add(24*time.Hour)))
}

func TestRateCounterIncrements(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	deviceID := uuid.NewString()
	window := time.Now().UTC().Truncate(time.Hour)

	n, err := s.IncrementRateCounter(ctx, deviceID, "/devices/heartbeat", window)
	is.NoErr(err)
	is.Equal(n, int64(1))

	n, err = s.IncrementRateCounter(ctx, deviceID, "/devices/heartbeat", window)
	is.NoErr(err)
	is.Equal(n, int64(2))

	// a new window starts counting from scratch
	n, err = s.IncrementRateCounter(ctx, deviceID, "/devices/heartbeat", window.Add(time.Hour))
	is.NoErr(err)
	is.Equal(n, int64(1))
}

func TestExpireCommandsSweep(t *testing.T) {
	ctx, s := testSetup(t)
	is := is.New(t)

	now := time.Now().UTC()
	cmd := types.Command{
		CommandID:       uuid.NewString(),
		DeviceID:        uuid.NewString(),
		Tenant:          "default",
		Name:            "REBOOT",
		Priority:        5,
		IssuedAt:        now.Add(-2 * time.Hour),
		ExpiresAt:       now.Add(-time.Hour),
		ServerSignature: "c2ln",
		Status:          types.CommandStatusPending,
	}
	is.NoErr(s.InsertCommand(ctx, cmd))

	expired, err := s.ExpireCommands(ctx, now)
	is.NoErr(err)

	found := false
	for _, id := range expired {
		if id == cmd.CommandID {
			found = true
		}
	}
	is.True(found)

	stored, err := s.GetCommand(ctx, WithCommandID(cmd.CommandID))
	is.NoErr(err)
	is.Equal(stored.Status, types.CommandStatusExpired)
}
