package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

var tracer = otel.Tracer("attendance-mgmt/ingest")

// Tokens an event fragment must carry before anything else is looked at.
var requiredTokens = []string{"E1", "A1", "A2", "A3", "D1"}

// Fragment is one decoded event from a batch, paired with its
// verbatim wire form for the audit trail.
type Fragment struct {
	Tokens map[string]any
	Raw    string
}

//go:generate moq -rm -out eventstorage_mock.go . EventStorage
type EventStorage interface {
	InsertEventAndAudit(ctx context.Context, event types.AttendanceEvent, audit types.AuditRecord) error
	AddAudit(ctx context.Context, audit types.AuditRecord) error
	UpdateDeviceLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error
}

type Engine interface {
	IngestBatch(ctx context.Context, device types.Device, fragments []Fragment) []types.EventResult
}

type engine struct {
	storage EventStorage
	hooks   hooks.Bus
}

func New(storage EventStorage, bus hooks.Bus) Engine {
	return &engine{
		storage: storage,
		hooks:   bus,
	}
}

// IngestBatch processes each event independently and returns one
// result per fragment, in input order. A failure on one event never
// aborts the rest of the batch.
func (e *engine) IngestBatch(ctx context.Context, device types.Device, fragments []Fragment) []types.EventResult {
	var err error
	ctx, span := tracer.Start(ctx, "ingest-batch")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	results := make([]types.EventResult, 0, len(fragments))

	anyProcessed := false

	for _, fragment := range fragments {
		result := e.ingestOne(ctx, device, fragment)
		if result.Status == types.EventStatusProcessed {
			anyProcessed = true
		}
		results = append(results, result)
	}

	if anyProcessed {
		if lsErr := e.storage.UpdateDeviceLastSeen(ctx, device.DeviceID, time.Now().UTC()); lsErr != nil {
			log.Error("failed to update device last seen", "device_id", device.DeviceID, "err", lsErr.Error())
		}
	}

	return results
}

func (e *engine) ingestOne(ctx context.Context, device types.Device, fragment Fragment) types.EventResult {
	log := logging.GetFromContext(ctx)

	event, result, ok := e.validate(ctx, device, fragment)
	if !ok {
		e.audit(ctx, device, fragment.Raw, RenderResult(result), types.EventStatusRejected)
		e.hooks.Emit(ctx, types.HookInvalidEvent, fragment.Tokens)
		return result
	}

	err := e.storage.InsertEventAndAudit(ctx, event, types.AuditRecord{
		AuditID:  uuid.NewString(),
		DeviceID: device.DeviceID,
		Tenant:   device.Tenant,
		Endpoint: "/devices/events",
		Payload:  fragment.Raw,
		Response: fmt.Sprintf("A1:%s|S1:accepted", event.EventID),
		Status:   types.EventStatusProcessed,
	})

	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			result = types.EventResult{EventID: event.EventID, Status: types.EventStatusDuplicate}
			e.audit(ctx, device, fragment.Raw, RenderResult(result), types.EventStatusDuplicate)
			e.hooks.Emit(ctx, types.HookDuplicateEvent, event)
			return result
		}

		log.Error("failed to persist event", "event_id", event.EventID, "err", err.Error())

		result = types.EventResult{EventID: event.EventID, Status: types.EventStatusRejected, Reason: types.ErrCodeInternal}
		e.audit(ctx, device, fragment.Raw, RenderResult(result), types.EventStatusRejected)
		return result
	}

	e.hooks.Emit(ctx, types.HookEventIngested, event)

	return types.EventResult{EventID: event.EventID, Status: types.EventStatusProcessed}
}

func (e *engine) validate(ctx context.Context, device types.Device, fragment Fragment) (types.AttendanceEvent, types.EventResult, bool) {
	tokens := fragment.Tokens

	eventID, _ := tokens["A1"].(string)

	missing := make([]string, 0, len(requiredTokens))
	for _, key := range requiredTokens {
		if _, ok := tokens[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return types.AttendanceEvent{}, types.EventResult{
			EventID: eventID,
			Status:  types.EventStatusRejected,
			Missing: missing,
		}, false
	}

	employeeID := stringToken(tokens, "E1")
	eventType := stringToken(tokens, "A2")

	if !types.IsValidEventType(eventType) {
		return types.AttendanceEvent{}, types.EventResult{
			EventID: eventID, Status: types.EventStatusRejected, Reason: types.ErrCodeInvalidEventType,
		}, false
	}

	ts, err := parseEventTime(stringToken(tokens, "A3"))
	if err != nil {
		return types.AttendanceEvent{}, types.EventResult{
			EventID: eventID, Status: types.EventStatusRejected, Reason: types.ErrCodeInvalidTimestampFormat,
		}, false
	}

	event := types.AttendanceEvent{
		EventID:    eventID,
		EmployeeID: employeeID,
		EventType:  eventType,
		Timestamp:  ts,
		DeviceID:   stringToken(tokens, "D1"),
		Tenant:     device.Tenant,
		RawPayload: fragment.Raw,
		Status:     types.EventStatusProcessed,
	}

	if loc, ok := tokens["L1"]; ok {
		location, err := parseLocation(loc)
		if err != nil {
			return types.AttendanceEvent{}, types.EventResult{
				EventID: eventID, Status: types.EventStatusRejected, Reason: types.ErrCodeInvalidLocationFormat,
			}, false
		}
		event.Location = location
	}

	if sc, ok := tokens["SC1"].(map[string]any); ok {
		event.Scores = parseScores(sc)
	}

	if br, ok := tokens["B1"].(map[string]any); ok {
		event.Break = parseBreak(br)
	}

	event.ConsentToken = stringToken(tokens, "C1")
	event.DeviceSignature = stringToken(tokens, "SIG1")

	return event, types.EventResult{EventID: eventID, Status: types.EventStatusProcessed}, true
}

func (e *engine) audit(ctx context.Context, device types.Device, payload, response, status string) {
	log := logging.GetFromContext(ctx)

	err := e.storage.AddAudit(ctx, types.AuditRecord{
		AuditID:  uuid.NewString(),
		DeviceID: device.DeviceID,
		Tenant:   device.Tenant,
		Endpoint: "/devices/events",
		Payload:  payload,
		Response: response,
		Status:   status,
	})
	if err != nil {
		log.Error("failed to append audit record", "device_id", device.DeviceID, "err", err.Error())
	}
}

// RenderResult renders one per-event response fragment. Accepted and
// duplicate events answer with their event id; schema failures answer
// with the first missing token.
func RenderResult(r types.EventResult) string {
	if len(r.Missing) > 0 {
		return fmt.Sprintf("S1:error|ERR4:missing_token:%s", r.Missing[0])
	}

	switch r.Status {
	case types.EventStatusProcessed:
		return fmt.Sprintf("A1:%s|S1:accepted", r.EventID)
	case types.EventStatusDuplicate:
		return fmt.Sprintf("A1:%s|S1:duplicate", r.EventID)
	default:
		return fmt.Sprintf("A1:%s|S1:error|R1:%s", r.EventID, r.Reason)
	}
}

// RenderResults joins per-event fragments into the batch response
// body, preserving input order.
func RenderResults(results []types.EventResult) string {
	fragments := make([]string, 0, len(results))
	for _, r := range results {
		fragments = append(fragments, RenderResult(r))
	}
	return strings.Join(fragments, "||")
}

func stringToken(tokens map[string]any, key string) string {
	switch v := tokens[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func parseEventTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

func parseLocation(v any) (*types.Location, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("location is not an object")
	}

	lat, latOK := numberField(m, "lat")
	lng, lngOK := numberField(m, "lng")

	if !latOK || !lngOK {
		return nil, fmt.Errorf("location requires both lat and lng")
	}

	location := &types.Location{Latitude: lat, Longitude: lng}
	if acc, ok := numberField(m, "accuracy"); ok {
		location.Accuracy = acc
	}

	return location, nil
}

func parseScores(m map[string]any) *types.Scores {
	scores := &types.Scores{}
	if v, ok := numberField(m, "face"); ok {
		scores.Face = &v
	}
	if v, ok := numberField(m, "fingerprint"); ok {
		scores.Fingerprint = &v
	}
	if v, ok := numberField(m, "liveness"); ok {
		scores.Liveness = &v
	}
	if v, ok := numberField(m, "quality"); ok {
		scores.Quality = &v
	}
	return scores
}

func parseBreak(m map[string]any) *types.BreakInfo {
	info := &types.BreakInfo{}
	if v, ok := m["type"].(string); ok {
		info.Type = v
	}
	if v, ok := numberField(m, "duration"); ok {
		info.Duration = int(v)
	}
	if v, ok := m["over_break"].(bool); ok {
		info.OverBreak = v
	}
	return info
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}
