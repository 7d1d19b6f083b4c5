package commands

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/toon"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func TestIssueSignsCommand(t *testing.T) {
	is, svc, store, priv := testSetup(t)

	cmd, err := svc.Issue(context.Background(), types.Command{
		DeviceID: "dev_1",
		Tenant:   "acme",
		Name:     "REBOOT",
		Priority: 5,
	})
	is.NoErr(err)
	is.True(cmd.CommandID != "")
	is.Equal(cmd.Status, types.CommandStatusPending)
	is.Equal(len(store.InsertCommandCalls()), 1)

	// the device must be able to verify SIG_SERV against the
	// published server key
	pubPEM, err := keys.EncodePublicKeyPEM(priv.Public().(ed25519.PublicKey))
	is.NoErr(err)
	is.NoErr(keys.Verify(pubPEM, toon.Canonical(CommandTokens(cmd)), cmd.ServerSignature))
}

func TestAcknowledgeCompletesOnce(t *testing.T) {
	is, _, store, _ := testSetup(t)

	completed := false
	store.CompleteCommandFunc = func(ctx context.Context, commandID, ackStatus, ackMessage string, executionTimeMS *int, rawAck string, completedAt time.Time) (bool, error) {
		if completed {
			return false, nil
		}
		completed = true
		return true, nil
	}

	var acked int
	bus := hooks.New()
	bus.Subscribe(types.HookCommandAcknowledged, func(ctx context.Context, payload any) error {
		acked++
		return nil
	})
	svcWithBus, err := New(store, bus, testKey(t))
	is.NoErr(err)

	device := types.Device{DeviceID: "dev_1", Tenant: "acme"}

	// first ack completes
	is.NoErr(svcWithBus.Acknowledge(context.Background(), device, Ack{CommandID: "cmd_x", Status: "OK"}))
	// second ack is idempotent, no second hook
	is.NoErr(svcWithBus.Acknowledge(context.Background(), device, Ack{CommandID: "cmd_x", Status: "OK"}))

	is.Equal(acked, 1)
	is.Equal(len(store.CompleteCommandCalls()), 2)
}

func TestAcknowledgeUnknownCommand(t *testing.T) {
	is, svc, store, _ := testSetup(t)

	store.GetCommandFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Command, error) {
		return types.Command{}, storage.ErrNoRows
	}

	err := svc.Acknowledge(context.Background(), types.Device{DeviceID: "dev_1"}, Ack{CommandID: "nope", Status: "OK"})
	is.True(errors.Is(err, ErrCommandNotFound))
}

func TestCheckFirmwareOffersUpdateWithSignedURL(t *testing.T) {
	is, svc, store, _ := testSetup(t)

	store.LatestFirmwareReleaseFunc = func(ctx context.Context, deviceType, policyID string) (types.FirmwareRelease, error) {
		return types.FirmwareRelease{
			FirmwareID:        "fw_9",
			Version:           "2.1.0",
			DeviceType:        types.DeviceTypeRPi,
			BundleURLTemplate: "https://assets.example.com/fw/rpi",
			Checksum:          "abc123",
			SizeBytes:         4096,
		}, nil
	}

	device := types.Device{DeviceID: "dev_1", DeviceType: types.DeviceTypeRPi, FirmwareVersion: "2.0.0"}

	offer, err := svc.CheckFirmware(context.Background(), device, "2.0.0")
	is.NoErr(err)
	is.Equal(offer.Release.FirmwareID, "fw_9")
	is.True(strings.Contains(offer.DownloadURL, "token="))

	// the token in the URL must verify on the download endpoint
	params := parseQuery(t, offer.DownloadURL)
	is.NoErr(svc.VerifyDownloadToken(params["device"], params["fw"], params["exp"], params["token"]))

	// tampering with the device id must invalidate the token
	err = svc.VerifyDownloadToken("dev_other", params["fw"], params["exp"], params["token"])
	is.True(errors.Is(err, ErrBadDownloadToken))
}

func TestCheckFirmwareUpToDate(t *testing.T) {
	is, svc, store, _ := testSetup(t)

	store.LatestFirmwareReleaseFunc = func(ctx context.Context, deviceType, policyID string) (types.FirmwareRelease, error) {
		return types.FirmwareRelease{FirmwareID: "fw_9", Version: "2.1.0"}, nil
	}

	_, err := svc.CheckFirmware(context.Background(), types.Device{DeviceID: "dev_1"}, "2.1.0")
	is.True(errors.Is(err, ErrNoRelease))
}

func TestVerifyDownloadTokenRejectsExpired(t *testing.T) {
	is, _, store, priv := testSetup(t)

	svc, err := New(store, hooks.New(), priv)
	is.NoErr(err)

	impl := svc.(*service)
	expired := time.Now().Add(-time.Minute).UTC()
	token := impl.downloadToken("dev_1", "fw_9", expired)

	err = svc.VerifyDownloadToken("dev_1", "fw_9", strconv.FormatInt(expired.Unix(), 10), token)
	is.True(errors.Is(err, ErrBadDownloadToken))
}

func TestFirmwareAckAppliedBumpsVersion(t *testing.T) {
	is, svc, store, _ := testSetup(t)

	store.GetFirmwareReleaseFunc = func(ctx context.Context, firmwareID string) (types.FirmwareRelease, error) {
		return types.FirmwareRelease{FirmwareID: firmwareID, Version: "2.1.0"}, nil
	}

	device := types.Device{DeviceID: "dev_1", Tenant: "acme"}

	err := svc.AcknowledgeFirmware(context.Background(), device, "fw_9", "OK", "")
	is.NoErr(err)

	is.Equal(store.SetDeviceFirmwareStatusCalls()[0].Status.Status, types.FirmwareStatusApplied)
	is.Equal(store.SetDeviceFirmwareVersionCalls()[0].Version, "2.1.0")
}

func TestFirmwareAckFailureEmitsHook(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()
	store.GetFirmwareReleaseFunc = func(ctx context.Context, firmwareID string) (types.FirmwareRelease, error) {
		return types.FirmwareRelease{FirmwareID: firmwareID, Version: "2.1.0"}, nil
	}

	var failures int
	bus := hooks.New()
	bus.Subscribe(types.HookFirmwareFailure, func(ctx context.Context, payload any) error {
		failures++
		msg, ok := payload.(types.FirmwareFailure)
		is.True(ok)
		is.Equal(msg.FirmwareID, "fw_9")
		return nil
	})

	svc, err := New(store, bus, testKey(t))
	is.NoErr(err)

	err = svc.AcknowledgeFirmware(context.Background(), types.Device{DeviceID: "dev_1", Tenant: "acme"}, "fw_9", "FAILED", "flash write error")
	is.NoErr(err)
	is.Equal(failures, 1)
	is.Equal(len(store.SetDeviceFirmwareVersionCalls()), 0)
}

func testSetup(t *testing.T) (*is.I, CommandService, *CommandStorageMock, ed25519.PrivateKey) {
	is := is.New(t)
	store := newMockStorage()
	priv := testKey(t)

	svc, err := New(store, hooks.New(), priv)
	is.NoErr(err)

	return is, svc, store, priv
}

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, privPEM, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	priv, err := keys.DecodePrivateKeyPEM(privPEM)
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func newMockStorage() *CommandStorageMock {
	return &CommandStorageMock{
		InsertCommandFunc: func(ctx context.Context, cmd types.Command) error { return nil },
		GetCommandFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Command, error) {
			return types.Command{CommandID: "cmd_x", DeviceID: "dev_1", Status: types.CommandStatusPending}, nil
		},
		QueryCommandsFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Command], error) {
			return types.Collection[types.Command]{}, nil
		},
		PendingCommandsFunc: func(ctx context.Context, deviceID string, now time.Time) ([]types.Command, error) {
			return nil, nil
		},
		CompleteCommandFunc: func(ctx context.Context, commandID, ackStatus, ackMessage string, executionTimeMS *int, rawAck string, completedAt time.Time) (bool, error) {
			return true, nil
		},
		ExpireCommandsFunc: func(ctx context.Context, now time.Time) ([]string, error) {
			return nil, nil
		},
		LatestFirmwareReleaseFunc: func(ctx context.Context, deviceType, policyID string) (types.FirmwareRelease, error) {
			return types.FirmwareRelease{}, storage.ErrNoRows
		},
		GetFirmwareReleaseFunc: func(ctx context.Context, firmwareID string) (types.FirmwareRelease, error) {
			return types.FirmwareRelease{}, storage.ErrNoRows
		},
		InsertFirmwareReleaseFunc: func(ctx context.Context, release types.FirmwareRelease) error { return nil },
		QueryFirmwareReleasesFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.FirmwareRelease], error) {
			return types.Collection[types.FirmwareRelease]{}, nil
		},
		SetDeviceFirmwareStatusFunc: func(ctx context.Context, status types.DeviceFirmwareStatus) error { return nil },
		SetDeviceFirmwareVersionFunc: func(ctx context.Context, deviceID, version string) error {
			return nil
		},
	}
}

func parseQuery(t *testing.T, url string) map[string]string {
	t.Helper()

	_, query, found := strings.Cut(url, "?")
	if !found {
		t.Fatalf("no query in url %q", url)
	}

	params := map[string]string{}
	for _, pair := range strings.Split(query, "&") {
		k, v, _ := strings.Cut(pair, "=")
		params[k] = v
	}
	return params
}
