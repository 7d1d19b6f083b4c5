package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/commands"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/devices"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/ingest"
	"github.com/toonwire/attendance-mgmt/internal/pkg/presentation/api/attest"
	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/toon"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

const (
	defaultTenant         = "default"
	heartbeatIntervalHint = 300
	firmwareRecheckHint   = 3600
)

var registerTokens = []string{"D1", "D2", "D4", "TS", "NONCE", "SIG1"}
var eventTokens = []string{"D1"}
var heartbeatTokens = []string{"D1", "HB1", "HB2", "TS", "NONCE", "SIG1"}
var pollTokens = []string{"D1", "TS", "NONCE", "SIG1"}
var commandAckTokens = []string{"D1", "CMD1", "ACK1", "TS", "NONCE", "SIG1"}
var firmwareCheckTokens = []string{"D1", "FW2", "TS", "NONCE", "SIG1"}
var firmwareAckTokens = []string{"D1", "FW1", "ACK1", "TS", "NONCE", "SIG1"}
var logTokens = []string{"D1", "LOG1", "LOG2", "TS", "NONCE", "SIG1"}

// RegisterDeviceHandlers mounts the device-facing endpoints. They all
// speak the legacy TOON dialect and, except for firmware downloads and
// health, sit behind the attestation pipeline.
func RegisterDeviceHandlers(ctx context.Context, router *chi.Mux, pipeline *attest.Pipeline, engine ingest.Engine, deviceSvc devices.DeviceManagement, cmdSvc commands.CommandService, firmwareDir string) *chi.Mux {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, "S1:ok|SYS:healthy|TS:"+nowISO())
	})

	router.Post("/devices/register", pipeline.ProtectRegister("/devices/register", registerTokens, registerDevice(deviceSvc)))
	router.Post("/devices/events", pipeline.ProtectBatch("/devices/events", eventTokens, ingestEvents(engine)))
	router.Post("/devices/heartbeat", pipeline.Protect("/devices/heartbeat", heartbeatTokens, heartbeat(deviceSvc)))
	router.Get("/devices/commands", pipeline.Protect("/devices/commands", pollTokens, pollCommands(cmdSvc)))
	router.Post("/devices/command-ack", pipeline.Protect("/devices/command-ack", commandAckTokens, acknowledgeCommand(cmdSvc)))
	router.Post("/devices/firmware/check", pipeline.Protect("/devices/firmware/check", firmwareCheckTokens, checkFirmware(cmdSvc)))
	router.Post("/devices/firmware/ack", pipeline.Protect("/devices/firmware/ack", firmwareAckTokens, acknowledgeFirmware(cmdSvc)))
	router.Get("/devices/firmware/download", downloadFirmware(cmdSvc, firmwareDir))
	router.Post("/devices/logs", pipeline.Protect("/devices/logs", logTokens, uploadLogs(deviceSvc)))

	return router
}

func registerDevice(svc devices.DeviceManagement) attest.Handler {
	return func(w http.ResponseWriter, r *http.Request, req attest.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "register-device")
		defer func() { endSpan(err, span) }()

		publicPEM, err := keys.PublicKeyFromBase64(tokenStr(req.Tokens, "D4"))
		if err != nil {
			attest.WriteError(w, types.ErrPayloadCorrupted("invalid public key"), time.Now())
			return
		}

		tenant := tokenStr(req.Tokens, "T1")
		if tenant == "" {
			tenant = defaultTenant
		}

		registration, err := svc.Register(ctx, types.Device{
			DeviceID:     tokenStr(req.Tokens, "D1"),
			Tenant:       tenant,
			DeviceType:   tokenStr(req.Tokens, "D2"),
			Capabilities: stringList(req.Tokens["D3"]),
			PublicKeyPEM: publicPEM,
			Status:       types.DeviceStatusActive,
		})
		if err != nil {
			switch {
			case errors.Is(err, devices.ErrInvalidDeviceType):
				attest.WriteError(w, types.ErrInvalidDeviceType(tokenStr(req.Tokens, "D2")), time.Now())
			case errors.Is(err, devices.ErrInvalidPublicKey):
				attest.WriteError(w, types.ErrPayloadCorrupted("invalid public key"), time.Now())
			case errors.Is(err, devices.ErrDeviceRevoked):
				attest.WriteError(w, types.ErrDeviceRevoked(), time.Now())
			default:
				attest.WriteError(w, types.ErrInternal(), time.Now())
			}
			return
		}

		device := registration.Device
		parts := []string{
			"S1:ok",
			"D1:" + device.DeviceID,
			"D2:" + device.DeviceType,
			"D4:" + tokenStr(req.Tokens, "D4"),
			"REG:" + device.RegisteredAt.UTC().Format(time.RFC3339),
		}
		if !registration.Created && !device.LastSeen.IsZero() {
			parts = append(parts, "LAST:"+device.LastSeen.UTC().Format(time.RFC3339))
		}

		writeOK(w, strings.Join(parts, "|"))
	}
}

// ingestEvents decodes the fragments individually so that one corrupt
// event cannot sink its batch siblings.
func ingestEvents(engine ingest.Engine) attest.Handler {
	return func(w http.ResponseWriter, r *http.Request, req attest.Request) {
		ctx, span := tracer.Start(r.Context(), "ingest-events")
		defer func() { endSpan(nil, span) }()

		raws := toon.RawFragments(req.Raw)

		results := make([]types.EventResult, len(raws))
		fragments := make([]ingest.Fragment, 0, len(raws))
		positions := make([]int, 0, len(raws))

		for i, raw := range raws {
			tokens, err := toon.DecodeLegacy(raw)
			if err != nil {
				results[i] = types.EventResult{Status: types.EventStatusRejected, Reason: types.ErrCodePayloadCorrupted}
				continue
			}
			fragments = append(fragments, ingest.Fragment{Tokens: tokens, Raw: raw})
			positions = append(positions, i)
		}

		for j, result := range engine.IngestBatch(ctx, req.Device, fragments) {
			results[positions[j]] = result
		}

		writeOK(w, ingest.RenderResults(results))
	}
}

func heartbeat(svc devices.DeviceManagement) attest.Handler {
	return func(w http.ResponseWriter, r *http.Request, req attest.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "heartbeat")
		defer func() { endSpan(err, span) }()

		hb, err := svc.HandleHeartbeat(ctx, req.Device, tokenStr(req.Tokens, "FW2"), time.Now().UTC())
		if err != nil {
			attest.WriteError(w, types.ErrInternal(), time.Now())
			return
		}

		parts := []string{
			"S1:ok",
			fmt.Sprintf("RTO:%d", heartbeatIntervalHint),
			"TS:" + nowISO(),
			fmt.Sprintf("PENDING_CMDS:%d", hb.PendingCommands),
		}
		if len(hb.CommandIDs) > 0 {
			parts = append(parts, "CMD_IDS:"+strings.Join(hb.CommandIDs, ";"))
		}
		if hb.FirmwareUpdate {
			parts = append(parts, "FW_AVAILABLE:true", "FW2:"+hb.FirmwareVersion)
		}

		writeOK(w, strings.Join(parts, "|"))
	}
}

func pollCommands(svc commands.CommandService) attest.Handler {
	return func(w http.ResponseWriter, r *http.Request, req attest.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "poll-commands")
		defer func() { endSpan(err, span) }()

		pending, err := svc.Poll(ctx, req.Device)
		if err != nil {
			attest.WriteError(w, types.ErrInternal(), time.Now())
			return
		}

		if len(pending) == 0 {
			writeOK(w, "S1:no_commands|TS:"+nowISO())
			return
		}

		parts := []string{fmt.Sprintf("CMD_COUNT:%d", len(pending))}
		for i, cmd := range pending {
			parts = append(parts,
				fmt.Sprintf("CMD[%d].CMD1:%s", i, cmd.CommandID),
				fmt.Sprintf("CMD[%d].CMD2:%s", i, cmd.Name),
			)
			if cmd.Payload != "" {
				parts = append(parts, fmt.Sprintf("CMD[%d].CMD3:%s", i, cmd.Payload))
			}
			parts = append(parts,
				fmt.Sprintf("CMD[%d].CMD4:%d", i, cmd.Priority),
				fmt.Sprintf("CMD[%d].CMD5:%s", i, cmd.ExpiresAt.UTC().Format(time.RFC3339)),
				fmt.Sprintf("CMD[%d].SIG_SERV:%s", i, cmd.ServerSignature),
			)
		}
		parts = append(parts, "TS:"+nowISO())

		writeOK(w, strings.Join(parts, "|"))
	}
}

func acknowledgeCommand(svc commands.CommandService) attest.Handler {
	return func(w http.ResponseWriter, r *http.Request, req attest.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "ack-command")
		defer func() { endSpan(err, span) }()

		ack := commands.Ack{
			CommandID: tokenStr(req.Tokens, "CMD1"),
			Status:    tokenStr(req.Tokens, "ACK1"),
			Message:   tokenStr(req.Tokens, "ACK2"),
			Raw:       req.Raw,
		}
		if ms, ok := req.Tokens["ACK3"].(float64); ok {
			v := int(ms)
			ack.ExecutionTimeMS = &v
		}

		err = svc.Acknowledge(ctx, req.Device, ack)
		if err != nil {
			if errors.Is(err, commands.ErrCommandNotFound) {
				attest.WriteError(w, types.ErrPayloadCorrupted("unknown command"), time.Now())
				return
			}
			attest.WriteError(w, types.ErrInternal(), time.Now())
			return
		}

		writeOK(w, "S1:ok|TS:"+nowISO())
	}
}

func checkFirmware(svc commands.CommandService) attest.Handler {
	return func(w http.ResponseWriter, r *http.Request, req attest.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "check-firmware")
		defer func() { endSpan(err, span) }()

		offer, err := svc.CheckFirmware(ctx, req.Device, tokenStr(req.Tokens, "FW2"))
		if errors.Is(err, commands.ErrNoRelease) {
			err = nil
			writeOK(w, fmt.Sprintf("S1:no_update|RTO:%d|TS:%s", firmwareRecheckHint, nowISO()))
			return
		}
		if err != nil {
			attest.WriteError(w, types.ErrInternal(), time.Now())
			return
		}

		release := offer.Release
		parts := []string{
			"S1:ok",
			"FW1:" + release.FirmwareID,
			"FW2:" + release.Version,
			"FW3:" + release.BundleURLTemplate,
			"FW4:" + release.Checksum,
			fmt.Sprintf("FW5:%d", release.SizeBytes),
			"FW_SIG:" + release.ServerSignature,
			"O1:" + offer.DownloadURL,
			"TS:" + nowISO(),
		}

		writeOK(w, strings.Join(parts, "|"))
	}
}

func acknowledgeFirmware(svc commands.CommandService) attest.Handler {
	return func(w http.ResponseWriter, r *http.Request, req attest.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "ack-firmware")
		defer func() { endSpan(err, span) }()

		err = svc.AcknowledgeFirmware(ctx, req.Device,
			tokenStr(req.Tokens, "FW1"),
			tokenStr(req.Tokens, "ACK1"),
			tokenStr(req.Tokens, "ACK2"),
		)
		if err != nil {
			attest.WriteError(w, types.ErrInternal(), time.Now())
			return
		}

		writeOK(w, "S1:ok|TS:"+nowISO())
	}
}

// downloadFirmware is guarded by the signed token in the URL instead
// of the attestation pipeline, so that download tooling does not need
// to speak TOON.
func downloadFirmware(svc commands.CommandService, firmwareDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		_, span := tracer.Start(r.Context(), "download-firmware")
		defer func() { endSpan(err, span) }()

		q := r.URL.Query()
		deviceID := q.Get("device")
		firmwareID := q.Get("fw")

		err = svc.VerifyDownloadToken(deviceID, firmwareID, q.Get("exp"), q.Get("token"))
		if err != nil {
			attest.WriteError(w, types.ErrSignatureInvalid(), time.Now())
			return
		}

		bundle := filepath.Join(firmwareDir, filepath.Base(firmwareID)+".bin")
		if _, statErr := os.Stat(bundle); statErr != nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, bundle)
	}
}

func uploadLogs(svc devices.DeviceManagement) attest.Handler {
	return func(w http.ResponseWriter, r *http.Request, req attest.Request) {
		var err error
		ctx, span := tracer.Start(r.Context(), "upload-logs")
		defer func() { endSpan(err, span) }()

		entries := parseLogEntries(req.Tokens)

		err = svc.AddLogs(ctx, req.Device, entries)
		if err != nil {
			attest.WriteError(w, types.ErrInternal(), time.Now())
			return
		}

		writeOK(w, fmt.Sprintf("S1:ok|LOG1:%d|TS:%s", len(entries), nowISO()))
	}
}

func parseLogEntries(tokens map[string]any) []types.DeviceLogEntry {
	count := 0
	if n, ok := tokens["LOG1"].(float64); ok {
		count = int(n)
	}

	// LOG2 is the batch default level for entries without their own LVL
	batchLevel := tokenStr(tokens, "LOG2")
	if batchLevel == "" {
		batchLevel = "info"
	}

	entries := make([]types.DeviceLogEntry, 0, count)
	for i := 0; i < count; i++ {
		msg := tokenStr(tokens, fmt.Sprintf("LOG[%d].MSG", i))
		if msg == "" {
			continue
		}

		level := tokenStr(tokens, fmt.Sprintf("LOG[%d].LVL", i))
		if level == "" {
			level = batchLevel
		}

		loggedAt := time.Now().UTC()
		if ts, err := time.Parse(time.RFC3339, tokenStr(tokens, fmt.Sprintf("LOG[%d].TS", i))); err == nil {
			loggedAt = ts
		}

		entries = append(entries, types.DeviceLogEntry{
			Level:    level,
			Message:  msg,
			LoggedAt: loggedAt,
		})
	}

	return entries
}

func writeOK(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/toon")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func tokenStr(tokens map[string]any, key string) string {
	switch v := tokens[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
