package commands

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/toon"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

var tracer = otel.Tracer("attendance-mgmt/commands")

var ErrCommandNotFound = fmt.Errorf("command not found")
var ErrNoRelease = fmt.Errorf("no firmware release available")
var ErrBadDownloadToken = fmt.Errorf("invalid download token")

// Default command lifetime when the issuer does not give one.
const defaultCommandTTL = 24 * time.Hour

const downloadTokenTTL = 15 * time.Minute

//go:generate moq -rm -out commandstorage_mock.go . CommandStorage
type CommandStorage interface {
	InsertCommand(ctx context.Context, cmd types.Command) error
	GetCommand(ctx context.Context, conditions ...storage.ConditionFunc) (types.Command, error)
	QueryCommands(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Command], error)
	PendingCommands(ctx context.Context, deviceID string, now time.Time) ([]types.Command, error)
	CompleteCommand(ctx context.Context, commandID, ackStatus, ackMessage string, executionTimeMS *int, rawAck string, completedAt time.Time) (bool, error)
	ExpireCommands(ctx context.Context, now time.Time) ([]string, error)
	LatestFirmwareRelease(ctx context.Context, deviceType, policyID string) (types.FirmwareRelease, error)
	GetFirmwareRelease(ctx context.Context, firmwareID string) (types.FirmwareRelease, error)
	InsertFirmwareRelease(ctx context.Context, release types.FirmwareRelease) error
	QueryFirmwareReleases(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.FirmwareRelease], error)
	SetDeviceFirmwareStatus(ctx context.Context, status types.DeviceFirmwareStatus) error
	SetDeviceFirmwareVersion(ctx context.Context, deviceID, version string) error
}

// Ack is a device acknowledgement of one command.
type Ack struct {
	CommandID       string
	Status          string
	Message         string
	ExecutionTimeMS *int
	Raw             string
}

// FirmwareOffer is what a device gets back from a firmware check when
// an update applies.
type FirmwareOffer struct {
	Release     types.FirmwareRelease
	DownloadURL string
}

type CommandService interface {
	Issue(ctx context.Context, cmd types.Command) (types.Command, error)
	Poll(ctx context.Context, device types.Device) ([]types.Command, error)
	Acknowledge(ctx context.Context, device types.Device, ack Ack) error
	Query(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Command], error)
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)

	CheckFirmware(ctx context.Context, device types.Device, reportedVersion string) (FirmwareOffer, error)
	AcknowledgeFirmware(ctx context.Context, device types.Device, firmwareID, ackStatus, message string) error
	PublishFirmware(ctx context.Context, release types.FirmwareRelease) (types.FirmwareRelease, error)
	VerifyDownloadToken(deviceID, firmwareID, expires, token string) error
}

type service struct {
	storage CommandStorage
	hooks   hooks.Bus

	signingKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	now func() time.Time
}

func New(storage CommandStorage, bus hooks.Bus, signingKey ed25519.PrivateKey) (CommandService, error) {
	public, ok := signingKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, keys.ErrInvalidKey
	}

	return &service{
		storage:    storage,
		hooks:      bus,
		signingKey: signingKey,
		publicKey:  public,
		now:        time.Now,
	}, nil
}

// Issue stores a pending command carrying a server signature over the
// canonical form of its fields, so the device can verify provenance
// before executing.
func (s *service) Issue(ctx context.Context, cmd types.Command) (types.Command, error) {
	var err error
	ctx, span := tracer.Start(ctx, "issue-command")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = s.now().UTC()
	}
	if cmd.ExpiresAt.IsZero() {
		cmd.ExpiresAt = cmd.IssuedAt.Add(defaultCommandTTL)
	}

	cmd.Status = types.CommandStatusPending
	cmd.ServerSignature = keys.Sign(s.signingKey, toon.Canonical(CommandTokens(cmd)))

	err = s.storage.InsertCommand(ctx, cmd)
	if err != nil {
		return types.Command{}, err
	}

	s.hooks.Emit(ctx, types.HookDeviceCommand, cmd)

	return cmd, nil
}

func (s *service) Poll(ctx context.Context, device types.Device) ([]types.Command, error) {
	return s.storage.PendingCommands(ctx, device.DeviceID, s.now().UTC())
}

// Acknowledge completes a pending command exactly once. A repeated
// ack for an already completed command is answered ok and changes
// nothing.
func (s *service) Acknowledge(ctx context.Context, device types.Device, ack Ack) error {
	var err error
	ctx, span := tracer.Start(ctx, "ack-command")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	cmd, err := s.storage.GetCommand(ctx, storage.WithCommandID(ack.CommandID), storage.WithDeviceID(device.DeviceID))
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			err = ErrCommandNotFound
		}
		return err
	}

	updated, err := s.storage.CompleteCommand(ctx, ack.CommandID, ack.Status, ack.Message, ack.ExecutionTimeMS, ack.Raw, s.now().UTC())
	if err != nil {
		return err
	}

	if !updated {
		// already completed or expired; idempotent
		return nil
	}

	s.hooks.Emit(ctx, types.HookCommandAcknowledged, types.CommandAcknowledged{
		CommandID: cmd.CommandID,
		DeviceID:  device.DeviceID,
		Tenant:    device.Tenant,
		AckStatus: ack.Status,
		Timestamp: s.now().UTC(),
	})

	return nil
}

func (s *service) Query(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Command], error) {
	return s.storage.QueryCommands(ctx, conditions...)
}

func (s *service) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.storage.ExpireCommands(ctx, now)
	if err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		logging.GetFromContext(ctx).Info("expired overdue commands", "count", len(ids))
	}

	return len(ids), nil
}

// CheckFirmware compares the version the device reports against the
// latest applicable release. When they differ the offer carries a
// short-lived signed download URL.
func (s *service) CheckFirmware(ctx context.Context, device types.Device, reportedVersion string) (FirmwareOffer, error) {
	var err error
	ctx, span := tracer.Start(ctx, "check-firmware")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	release, err := s.storage.LatestFirmwareRelease(ctx, device.DeviceType, device.PolicyID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			err = nil
			return FirmwareOffer{}, ErrNoRelease
		}
		return FirmwareOffer{}, err
	}

	if release.Version == reportedVersion {
		return FirmwareOffer{}, ErrNoRelease
	}

	stErr := s.storage.SetDeviceFirmwareStatus(ctx, types.DeviceFirmwareStatus{
		DeviceID:   device.DeviceID,
		FirmwareID: release.FirmwareID,
		Status:     types.FirmwareStatusChecking,
		UpdatedAt:  s.now().UTC(),
	})
	if stErr != nil {
		logging.GetFromContext(ctx).Error("failed to record firmware status", "device_id", device.DeviceID, "err", stErr.Error())
	}

	expires := s.now().Add(downloadTokenTTL).UTC()
	token := s.downloadToken(device.DeviceID, release.FirmwareID, expires)

	url := fmt.Sprintf("%s?device=%s&fw=%s&exp=%d&token=%s",
		strings.TrimSuffix(release.BundleURLTemplate, "/"),
		device.DeviceID, release.FirmwareID, expires.Unix(), token)

	return FirmwareOffer{Release: release, DownloadURL: url}, nil
}

// AcknowledgeFirmware records progress for one release on one device.
// A successful apply bumps the device's firmware version; a failure
// raises the firmware failure hook.
func (s *service) AcknowledgeFirmware(ctx context.Context, device types.Device, firmwareID, ackStatus, message string) error {
	var err error
	ctx, span := tracer.Start(ctx, "ack-firmware")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	release, err := s.storage.GetFirmwareRelease(ctx, firmwareID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			err = ErrNoRelease
		}
		return err
	}

	status := firmwareStatusFromAck(ackStatus)

	err = s.storage.SetDeviceFirmwareStatus(ctx, types.DeviceFirmwareStatus{
		DeviceID:   device.DeviceID,
		FirmwareID: firmwareID,
		Status:     status,
		Message:    message,
		UpdatedAt:  s.now().UTC(),
	})
	if err != nil {
		return err
	}

	switch status {
	case types.FirmwareStatusApplied:
		err = s.storage.SetDeviceFirmwareVersion(ctx, device.DeviceID, release.Version)
		if err != nil {
			return err
		}
	case types.FirmwareStatusFailed:
		s.hooks.Emit(ctx, types.HookFirmwareFailure, types.FirmwareFailure{
			DeviceID:   device.DeviceID,
			FirmwareID: firmwareID,
			Tenant:     device.Tenant,
			Message:    message,
			Timestamp:  s.now().UTC(),
		})
	}

	return nil
}

func (s *service) PublishFirmware(ctx context.Context, release types.FirmwareRelease) (types.FirmwareRelease, error) {
	if release.FirmwareID == "" {
		release.FirmwareID = uuid.NewString()
	}
	release.CreatedAt = s.now().UTC()
	release.ServerSignature = keys.Sign(s.signingKey, toon.Canonical(FirmwareTokens(release)))

	err := s.storage.InsertFirmwareRelease(ctx, release)
	if err != nil {
		return types.FirmwareRelease{}, err
	}

	return release, nil
}

// VerifyDownloadToken checks the signed token carried in a firmware
// download URL. Expired or tampered tokens are rejected.
func (s *service) VerifyDownloadToken(deviceID, firmwareID, expires, token string) error {
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadDownloadToken
	}

	if s.now().UTC().After(time.Unix(unix, 0).UTC()) {
		return ErrBadDownloadToken
	}

	canon := downloadTokenCanonical(deviceID, firmwareID, time.Unix(unix, 0).UTC())

	sig, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrBadDownloadToken
	}

	if !ed25519.Verify(s.publicKey, []byte(canon), sig) {
		return ErrBadDownloadToken
	}

	return nil
}

// download tokens travel in URL queries, so they use the unpadded
// url-safe base64 alphabet instead of the wire signature encoding
func (s *service) downloadToken(deviceID, firmwareID string, expires time.Time) string {
	sig := ed25519.Sign(s.signingKey, []byte(downloadTokenCanonical(deviceID, firmwareID, expires)))
	return base64.RawURLEncoding.EncodeToString(sig)
}

func downloadTokenCanonical(deviceID, firmwareID string, expires time.Time) string {
	return toon.Canonical(map[string]any{
		"D1":  deviceID,
		"FW1": firmwareID,
		"EXP": strconv.FormatInt(expires.Unix(), 10),
	})
}

// CommandTokens renders the command fields signed by SIG_SERV. The
// device rebuilds the same set to verify.
func CommandTokens(cmd types.Command) map[string]any {
	tokens := map[string]any{
		"CMD1": cmd.CommandID,
		"CMD2": cmd.Name,
		"CMD4": float64(cmd.Priority),
		"CMD5": cmd.ExpiresAt.UTC().Format(time.RFC3339),
		"D1":   cmd.DeviceID,
	}
	if cmd.Payload != "" {
		tokens["CMD3"] = cmd.Payload
	}
	return tokens
}

// FirmwareTokens renders the release fields signed by SIG_SERV.
func FirmwareTokens(release types.FirmwareRelease) map[string]any {
	return map[string]any{
		"FW1": release.FirmwareID,
		"FW2": release.Version,
		"FW3": release.BundleURLTemplate,
		"FW4": release.Checksum,
		"FW5": float64(release.SizeBytes),
		"D2":  release.DeviceType,
	}
}

func firmwareStatusFromAck(ackStatus string) string {
	switch strings.ToUpper(ackStatus) {
	case "OK", "SUCCESS", "APPLIED":
		return types.FirmwareStatusApplied
	case "DOWNLOADING":
		return types.FirmwareStatusDownloading
	case "CHECKING":
		return types.FirmwareStatusChecking
	default:
		return types.FirmwareStatusFailed
	}
}
