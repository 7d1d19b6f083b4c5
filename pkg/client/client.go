package client

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/toon"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

var tracer = otel.Tracer("attendance-mgmt-client")

// DeviceClient drives the device side of the protocol: registration,
// event upload, heartbeats, command polling and firmware checks. Every
// request except the event batch carries freshness tokens and an
// ed25519 signature over the canonical payload.
type DeviceClient interface {
	Register(ctx context.Context, deviceType, firmwareVersion string) (Registration, error)
	SendEvents(ctx context.Context, events []Event) ([]Result, error)
	Heartbeat(ctx context.Context, batteryPercent, signalStrength int, firmwareVersion string) (HeartbeatStatus, error)
	PollCommands(ctx context.Context) ([]PendingCommand, error)
	AcknowledgeCommand(ctx context.Context, commandID, status, message string) error
	CheckFirmware(ctx context.Context, currentVersion string) (*FirmwareUpdate, error)
	AcknowledgeFirmware(ctx context.Context, firmwareID, status, message string) error
	UploadLogs(ctx context.Context, entries []LogEntry) error
}

type Registration struct {
	DeviceID     string
	RegisteredAt string
	LastSeen     string
}

// Event is one attendance observation to upload. Timestamp is sent in
// RFC 3339, location as a lat;lng pair.
type Event struct {
	EventID    string
	EmployeeID string
	EventType  string
	Timestamp  time.Time
	Location   *types.Location
}

type Result struct {
	EventID string
	Status  string
	Reason  string
}

type HeartbeatStatus struct {
	NextIntervalSeconds int
	PendingCommandIDs   []string
	FirmwareAvailable   bool
	FirmwareVersion     string
}

type PendingCommand struct {
	CommandID       string
	Name            string
	Payload         string
	Priority        float64
	ExpiresAt       string
	ServerSignature string
}

type FirmwareUpdate struct {
	FirmwareID      string
	Version         string
	BundleURL       string
	Checksum        string
	SizeBytes       int64
	ServerSignature string
}

type LogEntry struct {
	Level    string
	Message  string
	LoggedAt time.Time
}

// ServerError is a decoded device-facing error response.
type ServerError struct {
	StatusCode        string
	Detail            string
	RetryAfterSeconds int
	HTTPStatus        int
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.StatusCode, e.Detail)
	}
	return e.StatusCode
}

type deviceClient struct {
	url      string
	deviceID string
	priv     ed25519.PrivateKey

	httpClient http.Client
	newNonce   func() string
	now        func() time.Time
}

func New(serverURL, deviceID, privateKeyPEM string) (DeviceClient, error) {
	priv, err := keys.DecodePrivateKeyPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to decode device key: %w", err)
	}

	return &deviceClient{
		url:      strings.TrimSuffix(serverURL, "/"),
		deviceID: deviceID,
		priv:     priv,
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		newNonce: uuid.NewString,
		now:      time.Now,
	}, nil
}

func (c *deviceClient) Register(ctx context.Context, deviceType, firmwareVersion string) (Registration, error) {
	var err error
	ctx, span := tracer.Start(ctx, "register-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	pubPEM, err := keys.EncodePublicKeyPEM(c.priv.Public().(ed25519.PublicKey))
	if err != nil {
		return Registration{}, err
	}

	pubB64, err := keys.PublicKeyToBase64(pubPEM)
	if err != nil {
		return Registration{}, err
	}

	tokens := map[string]string{
		"D1": c.deviceID,
		"D2": deviceType,
		"D4": pubB64,
	}
	if firmwareVersion != "" {
		tokens["D5"] = firmwareVersion
	}

	response, err := c.post(ctx, "/devices/register", c.signed(tokens))
	if err != nil {
		return Registration{}, err
	}

	return Registration{
		DeviceID:     stringToken(response, "D1"),
		RegisteredAt: stringToken(response, "REG"),
		LastSeen:     stringToken(response, "LAST"),
	}, nil
}

// SendEvents uploads a batch of events as ||-separated fragments and
// maps the per-event response fragments back in input order.
func (c *deviceClient) SendEvents(ctx context.Context, events []Event) ([]Result, error) {
	var err error
	ctx, span := tracer.Start(ctx, "send-events")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if len(events) == 0 {
		return nil, nil
	}

	fragments := make([]string, 0, len(events))
	for _, e := range events {
		tokens := map[string]string{
			"E1": e.EmployeeID,
			"A1": e.EventID,
			"A2": e.EventType,
			"A3": e.Timestamp.UTC().Format(time.RFC3339),
			"D1": c.deviceID,
		}
		if e.Location != nil {
			tokens["L1"] = fmt.Sprintf("%g;%g", e.Location.Latitude, e.Location.Longitude)
		}
		fragments = append(fragments, encodePayload(tokens))
	}

	body, err := c.postRaw(ctx, "/devices/events", strings.Join(fragments, "||"))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(events))
	for _, fragment := range strings.Split(body, "||") {
		tokens, decodeErr := toon.DecodeLegacy(fragment)
		if decodeErr != nil {
			err = fmt.Errorf("failed to decode batch response: %w", decodeErr)
			return nil, err
		}
		result := Result{
			EventID: stringToken(tokens, "A1"),
			Status:  stringToken(tokens, "S1"),
			Reason:  stringToken(tokens, "R1"),
		}
		if missing := stringToken(tokens, "ERR4"); missing != "" {
			result.Reason = missing
		}
		results = append(results, result)
	}

	return results, nil
}

func (c *deviceClient) Heartbeat(ctx context.Context, batteryPercent, signalStrength int, firmwareVersion string) (HeartbeatStatus, error) {
	var err error
	ctx, span := tracer.Start(ctx, "heartbeat")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tokens := map[string]string{
		"D1":  c.deviceID,
		"HB1": strconv.Itoa(batteryPercent),
		"HB2": strconv.Itoa(signalStrength),
	}
	if firmwareVersion != "" {
		tokens["FW2"] = firmwareVersion
	}

	response, err := c.post(ctx, "/devices/heartbeat", c.signed(tokens))
	if err != nil {
		return HeartbeatStatus{}, err
	}

	status := HeartbeatStatus{
		NextIntervalSeconds: intToken(response, "RTO"),
		FirmwareVersion:     stringToken(response, "FW2"),
	}
	if fw := stringToken(response, "FW_AVAILABLE"); fw == "true" {
		status.FirmwareAvailable = true
	} else if b, ok := response["FW_AVAILABLE"].(bool); ok {
		status.FirmwareAvailable = b
	}
	if ids := stringToken(response, "CMD_IDS"); ids != "" {
		status.PendingCommandIDs = strings.Split(ids, ";")
	} else if list, ok := response["CMD_IDS"].([]any); ok {
		for _, id := range list {
			if s, ok := id.(string); ok {
				status.PendingCommandIDs = append(status.PendingCommandIDs, s)
			}
		}
	}

	return status, nil
}

func (c *deviceClient) PollCommands(ctx context.Context) ([]PendingCommand, error) {
	var err error
	ctx, span := tracer.Start(ctx, "poll-commands")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	signed := c.signed(map[string]string{"D1": c.deviceID})
	response, err := c.get(ctx, "/devices/commands", signed)
	if err != nil {
		return nil, err
	}

	if stringToken(response, "S1") == "no_commands" {
		return nil, nil
	}

	count := intToken(response, "CMD_COUNT")
	pending := make([]PendingCommand, 0, count)
	for i := 0; i < count; i++ {
		prefix := fmt.Sprintf("CMD[%d].", i)
		pending = append(pending, PendingCommand{
			CommandID:       stringToken(response, prefix+"CMD1"),
			Name:            stringToken(response, prefix+"CMD2"),
			Payload:         stringToken(response, prefix+"CMD3"),
			Priority:        floatToken(response, prefix+"CMD4"),
			ExpiresAt:       stringToken(response, prefix+"CMD5"),
			ServerSignature: stringToken(response, prefix+"SIG_SERV"),
		})
	}

	log.Debug("polled command queue", "device_id", c.deviceID, "pending", len(pending))

	return pending, nil
}

func (c *deviceClient) AcknowledgeCommand(ctx context.Context, commandID, status, message string) error {
	var err error
	ctx, span := tracer.Start(ctx, "acknowledge-command")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tokens := map[string]string{
		"D1":   c.deviceID,
		"CMD1": commandID,
		"ACK1": status,
	}
	if message != "" {
		tokens["ACK2"] = message
	}

	_, err = c.post(ctx, "/devices/command-ack", c.signed(tokens))
	return err
}

func (c *deviceClient) AcknowledgeFirmware(ctx context.Context, firmwareID, status, message string) error {
	var err error
	ctx, span := tracer.Start(ctx, "acknowledge-firmware")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tokens := map[string]string{
		"D1":   c.deviceID,
		"FW1":  firmwareID,
		"ACK1": status,
	}
	if message != "" {
		tokens["ACK2"] = message
	}

	_, err = c.post(ctx, "/devices/firmware/ack", c.signed(tokens))
	return err
}

func (c *deviceClient) CheckFirmware(ctx context.Context, currentVersion string) (*FirmwareUpdate, error) {
	var err error
	ctx, span := tracer.Start(ctx, "check-firmware")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	tokens := map[string]string{
		"D1":  c.deviceID,
		"FW2": currentVersion,
	}

	response, err := c.post(ctx, "/devices/firmware/check", c.signed(tokens))
	if err != nil {
		return nil, err
	}

	if stringToken(response, "S1") == "no_update" {
		return nil, nil
	}

	return &FirmwareUpdate{
		FirmwareID:      stringToken(response, "FW1"),
		Version:         stringToken(response, "FW2"),
		BundleURL:       stringToken(response, "FW3"),
		Checksum:        stringToken(response, "FW4"),
		SizeBytes:       int64(floatToken(response, "FW5")),
		ServerSignature: stringToken(response, "FW_SIG"),
	}, nil
}

func (c *deviceClient) UploadLogs(ctx context.Context, entries []LogEntry) error {
	var err error
	ctx, span := tracer.Start(ctx, "upload-logs")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	batchLevel := "info"
	if len(entries) > 0 && entries[0].Level != "" {
		batchLevel = entries[0].Level
	}

	tokens := map[string]string{
		"D1":   c.deviceID,
		"LOG1": strconv.Itoa(len(entries)),
		"LOG2": batchLevel,
	}
	for i, entry := range entries {
		prefix := fmt.Sprintf("LOG[%d].", i)
		tokens[prefix+"MSG"] = entry.Message
		if entry.Level != "" {
			tokens[prefix+"LVL"] = entry.Level
		}
		if !entry.LoggedAt.IsZero() {
			tokens[prefix+"TS"] = entry.LoggedAt.UTC().Format(time.RFC3339)
		}
	}

	_, err = c.post(ctx, "/devices/logs", c.signed(tokens))
	return err
}

// signed attaches TS and NONCE freshness tokens plus a SIG1 signature
// over the canonical form of the payload.
func (c *deviceClient) signed(tokens map[string]string) map[string]string {
	tokens["TS"] = c.now().UTC().Format(time.RFC3339)
	tokens["NONCE"] = c.newNonce()

	canonical := make(map[string]any, len(tokens))
	for k, v := range tokens {
		canonical[k] = v
	}
	tokens["SIG1"] = keys.Sign(c.priv, toon.Canonical(canonical))

	return tokens
}

func (c *deviceClient) post(ctx context.Context, path string, tokens map[string]string) (map[string]any, error) {
	body, err := c.postRaw(ctx, path, encodePayload(tokens))
	if err != nil {
		return nil, err
	}
	return toon.DecodeLegacy(body)
}

func (c *deviceClient) postRaw(ctx context.Context, path, payload string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/toon")

	return c.do(req)
}

func (c *deviceClient) get(ctx context.Context, path string, tokens map[string]string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range tokens {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return toon.DecodeLegacy(body)
}

func (c *deviceClient) do(req *http.Request) (string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", decodeServerError(resp.StatusCode, string(respBody))
	}

	return string(respBody), nil
}

func decodeServerError(httpStatus int, body string) error {
	serverErr := &ServerError{StatusCode: "internal_error", HTTPStatus: httpStatus}

	tokens, err := toon.DecodeLegacy(body)
	if err != nil {
		return serverErr
	}

	if code := stringToken(tokens, "ERR1"); code != "" {
		serverErr.StatusCode = code
	}
	serverErr.Detail = stringToken(tokens, "ERR2")
	serverErr.RetryAfterSeconds = intToken(tokens, "RTO")

	return serverErr
}

// encodePayload joins tokens in sorted key order. The server verifies
// signatures over the canonical (sorted) form, so wire order is free,
// but a stable order keeps audit records diffable.
func encodePayload(tokens map[string]string) string {
	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+tokens[k])
	}
	return strings.Join(parts, "|")
}

func stringToken(tokens map[string]any, key string) string {
	switch v := tokens[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func intToken(tokens map[string]any, key string) int {
	switch v := tokens[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func floatToken(tokens map[string]any, key string) float64 {
	switch v := tokens[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}
