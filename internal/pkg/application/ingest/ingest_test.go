package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/toon"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func TestIngestValidBatch(t *testing.T) {
	is, e, store, bus := testSetup(t)

	var ingested atomic.Int32
	bus.Subscribe(types.HookEventIngested, func(ctx context.Context, payload any) error {
		ingested.Add(1)
		return nil
	})

	body := "E1:emp_1|A1:evt_a|A2:IN|A3:2025-01-01T09:00:00Z|D1:dev_1||E1:emp_1|A1:evt_b|A2:OUT|A3:2025-01-01T17:00:00Z|D1:dev_1"
	results := e.IngestBatch(context.Background(), testDevice(), decodeFragments(t, body))

	is.Equal(RenderResults(results), "A1:evt_a|S1:accepted||A1:evt_b|S1:accepted")
	is.Equal(len(store.InsertEventAndAuditCalls()), 2)
	is.Equal(len(store.UpdateDeviceLastSeenCalls()), 1)
	is.Equal(ingested.Load(), int32(2))

	first := store.InsertEventAndAuditCalls()[0].Event
	is.Equal(first.EventID, "evt_a")
	is.Equal(first.EmployeeID, "emp_1")
	is.Equal(first.EventType, types.EventTypeIn)
	is.Equal(first.Tenant, "acme")
	is.Equal(first.RawPayload, "E1:emp_1|A1:evt_a|A2:IN|A3:2025-01-01T09:00:00Z|D1:dev_1")
}

func TestIngestDuplicateEvent(t *testing.T) {
	is, e, store, bus := testSetup(t)

	store.InsertEventAndAuditFunc = func(ctx context.Context, event types.AttendanceEvent, audit types.AuditRecord) error {
		return storage.ErrAlreadyExists
	}

	var duplicates atomic.Int32
	bus.Subscribe(types.HookDuplicateEvent, func(ctx context.Context, payload any) error {
		duplicates.Add(1)
		return nil
	})

	body := "E1:emp_1|A1:evt_a|A2:IN|A3:2025-01-01T09:00:00Z|D1:dev_1"
	results := e.IngestBatch(context.Background(), testDevice(), decodeFragments(t, body))

	is.Equal(RenderResults(results), "A1:evt_a|S1:duplicate")
	is.Equal(len(store.AddAuditCalls()), 1) // one audit row, no event row
	is.Equal(len(store.UpdateDeviceLastSeenCalls()), 0)
	is.Equal(duplicates.Load(), int32(1))
}

func TestIngestMissingToken(t *testing.T) {
	is, e, store, bus := testSetup(t)

	var invalid atomic.Int32
	bus.Subscribe(types.HookInvalidEvent, func(ctx context.Context, payload any) error {
		invalid.Add(1)
		return nil
	})

	body := "E1:emp_1|A1:evt_c|A2:IN|D1:dev_1"
	results := e.IngestBatch(context.Background(), testDevice(), decodeFragments(t, body))

	is.Equal(RenderResults(results), "S1:error|ERR4:missing_token:A3")
	is.Equal(len(store.InsertEventAndAuditCalls()), 0)
	is.Equal(invalid.Load(), int32(1))
}

func TestIngestInvalidEventType(t *testing.T) {
	is, e, _, _ := testSetup(t)

	body := "E1:emp_1|A1:evt_d|A2:SIDEWAYS|A3:2025-01-01T09:00:00Z|D1:dev_1"
	results := e.IngestBatch(context.Background(), testDevice(), decodeFragments(t, body))

	is.Equal(results[0].Status, types.EventStatusRejected)
	is.Equal(results[0].Reason, types.ErrCodeInvalidEventType)
}

func TestIngestLocationRequiresLatAndLng(t *testing.T) {
	is, e, store, _ := testSetup(t)

	body := "E1:emp_1|A1:evt_e|A2:IN|A3:2025-01-01T09:00:00Z|D1:dev_1|L1:lat=12.5"
	results := e.IngestBatch(context.Background(), testDevice(), decodeFragments(t, body))

	is.Equal(results[0].Reason, types.ErrCodeInvalidLocationFormat)
	is.Equal(len(store.InsertEventAndAuditCalls()), 0)
}

func TestIngestLocationAndScoresAreMapped(t *testing.T) {
	is, e, store, _ := testSetup(t)

	body := "E1:emp_1|A1:evt_f|A2:IN|A3:2025-01-01T09:00:00Z|D1:dev_1|L1:lat=12.5,lng=55.7,accuracy=4|SC1:face=0.97,liveness=0.92"
	e.IngestBatch(context.Background(), testDevice(), decodeFragments(t, body))

	event := store.InsertEventAndAuditCalls()[0].Event
	is.True(event.Location != nil)
	is.Equal(event.Location.Latitude, 12.5)
	is.Equal(event.Location.Longitude, 55.7)
	is.True(event.Scores != nil)
	is.Equal(*event.Scores.Face, 0.97)
	is.True(event.Scores.Fingerprint == nil)
}

func TestIngestOneBadEventDoesNotAbortBatch(t *testing.T) {
	is, e, store, _ := testSetup(t)

	body := "E1:emp_1|A1:evt_g|A2:IN|D1:dev_1||E1:emp_1|A1:evt_h|A2:OUT|A3:2025-01-01T17:00:00Z|D1:dev_1"
	results := e.IngestBatch(context.Background(), testDevice(), decodeFragments(t, body))

	is.Equal(len(results), 2)
	is.Equal(RenderResults(results), "S1:error|ERR4:missing_token:A3||A1:evt_h|S1:accepted")
	is.Equal(len(store.InsertEventAndAuditCalls()), 1)
}

func TestIngestConcurrentDuplicatesPersistOnce(t *testing.T) {
	is := is.New(t)

	var inserted sync.Map
	store := newMockStorage()
	store.InsertEventAndAuditFunc = func(ctx context.Context, event types.AttendanceEvent, audit types.AuditRecord) error {
		if _, loaded := inserted.LoadOrStore(event.EventID, struct{}{}); loaded {
			return storage.ErrAlreadyExists
		}
		return nil
	}

	e := New(store, hooks.New())
	body := "E1:emp_1|A1:evt_race|A2:IN|A3:2025-01-01T09:00:00Z|D1:dev_1"

	var accepted atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results := e.IngestBatch(context.Background(), testDevice(), decodeFragments(t, body))
			if results[0].Status == types.EventStatusProcessed {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	is.Equal(accepted.Load(), int32(1))
}

func testSetup(t *testing.T) (*is.I, Engine, *EventStorageMock, hooks.Bus) {
	is := is.New(t)
	store := newMockStorage()
	bus := hooks.New()
	return is, New(store, bus), store, bus
}

func newMockStorage() *EventStorageMock {
	return &EventStorageMock{
		InsertEventAndAuditFunc: func(ctx context.Context, event types.AttendanceEvent, audit types.AuditRecord) error {
			return nil
		},
		AddAuditFunc: func(ctx context.Context, audit types.AuditRecord) error {
			return nil
		},
		UpdateDeviceLastSeenFunc: func(ctx context.Context, deviceID string, seenAt time.Time) error {
			return nil
		},
	}
}

func testDevice() types.Device {
	return types.Device{
		DeviceID:   "dev_1",
		Tenant:     "acme",
		DeviceType: types.DeviceTypeKiosk,
		Status:     types.DeviceStatusActive,
	}
}

func decodeFragments(t *testing.T, body string) []Fragment {
	t.Helper()

	raws := toon.RawFragments(body)
	fragments := make([]Fragment, 0, len(raws))

	for _, raw := range raws {
		tokens, _, err := toon.Decode(raw)
		if err != nil {
			t.Fatalf("decode fragment: %v", err)
		}
		fragments = append(fragments, Fragment{Tokens: tokens, Raw: raw})
	}

	return fragments
}
