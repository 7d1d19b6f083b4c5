package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func TestRequestAttendanceRendersCSV(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()

	rendered := make(chan []byte, 1)
	store.CompleteReportFunc = func(ctx context.Context, reportID string, content []byte, contentType string, completedAt time.Time) error {
		rendered <- content
		return nil
	}
	store.QueryEventsFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.AttendanceEvent], error) {
		return types.Collection[types.AttendanceEvent]{
			Data: []types.AttendanceEvent{
				{
					EventID:    "evt_a",
					EmployeeID: "emp_1",
					EventType:  types.EventTypeIn,
					Timestamp:  time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
					DeviceID:   "dev_1",
				},
			},
			Count: 1,
		}, nil
	}

	generated := make(chan struct{}, 1)
	bus := hooks.New()
	bus.Subscribe(types.HookReportGenerated, func(ctx context.Context, payload any) error {
		generated <- struct{}{}
		return nil
	})

	svc := New(store, bus)

	report, err := svc.RequestAttendance(context.Background(), Request{
		Tenant: "acme",
		From:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	is.NoErr(err)
	is.Equal(report.Status, types.ReportStatusPending)
	is.Equal(report.Kind, KindAttendance)

	select {
	case content := <-rendered:
		body := string(content)
		is.True(strings.HasPrefix(body, "event_id,employee_id,event_type"))
		is.True(strings.Contains(body, "evt_a,emp_1,IN,2025-01-01T09:00:00Z,dev_1"))
	case <-time.After(2 * time.Second):
		t.Fatal("report was never rendered")
	}

	select {
	case <-generated:
	case <-time.After(2 * time.Second):
		t.Fatal("report generated hook was never emitted")
	}
}

func TestRequestAttendanceRejectsBadRange(t *testing.T) {
	is := is.New(t)
	svc := New(newMockStorage(), hooks.New())

	_, err := svc.RequestAttendance(context.Background(), Request{
		Tenant: "acme",
		From:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	is.True(errors.Is(err, ErrBadRequest))
}

func TestRequestAttendanceRejectsUnknownFormat(t *testing.T) {
	is := is.New(t)
	svc := New(newMockStorage(), hooks.New())

	_, err := svc.RequestAttendance(context.Background(), Request{
		Tenant: "acme",
		From:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Format: "pdf",
	})
	is.True(errors.Is(err, ErrBadRequest))
}

func TestFailedRenderMarksReportFailed(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()

	failed := make(chan struct{}, 1)
	store.QueryEventsFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.AttendanceEvent], error) {
		return types.Collection[types.AttendanceEvent]{}, errors.New("db down")
	}
	store.FailReportFunc = func(ctx context.Context, reportID string, completedAt time.Time) error {
		failed <- struct{}{}
		return nil
	}

	svc := New(store, hooks.New())

	_, err := svc.RequestAttendance(context.Background(), Request{
		Tenant: "acme",
		From:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	is.NoErr(err)

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("report was never marked failed")
	}
}

func TestDownloadRequiresReadyReport(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()
	store.GetReportFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Report, error) {
		return types.Report{ReportID: "rep_1", Tenant: "acme", Status: types.ReportStatusPending}, nil
	}

	svc := New(store, hooks.New())

	_, _, err := svc.Download(context.Background(), "rep_1", []string{"acme"})
	is.True(errors.Is(err, ErrReportNotReady))
}

func TestDownloadUnknownReport(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()
	store.GetReportFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Report, error) {
		return types.Report{}, storage.ErrNoRows
	}

	svc := New(store, hooks.New())

	_, _, err := svc.Download(context.Background(), "rep_x", []string{"acme"})
	is.True(errors.Is(err, ErrReportNotFound))
}

func TestSummarize(t *testing.T) {
	is := is.New(t)
	store := newMockStorage()
	store.CountEventsByTypeFunc = func(ctx context.Context, tenant string, from, to time.Time) (map[string]int64, error) {
		return map[string]int64{"IN": 40, "OUT": 38}, nil
	}

	svc := New(store, hooks.New())

	summary, err := svc.Summarize(context.Background(), "acme", time.Now().Add(-24*time.Hour), time.Now())
	is.NoErr(err)
	is.Equal(summary.Total, int64(78))
	is.Equal(summary.Counts["IN"], int64(40))
}

func newMockStorage() *ReportStorageMock {
	return &ReportStorageMock{
		InsertReportFunc: func(ctx context.Context, report types.Report) error { return nil },
		GetReportFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Report, error) {
			return types.Report{}, storage.ErrNoRows
		},
		GetReportContentFunc: func(ctx context.Context, reportID, tenant string) ([]byte, string, error) {
			return nil, "", storage.ErrNoRows
		},
		QueryReportsFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.Report], error) {
			return types.Collection[types.Report]{}, nil
		},
		CompleteReportFunc: func(ctx context.Context, reportID string, content []byte, contentType string, completedAt time.Time) error {
			return nil
		},
		FailReportFunc: func(ctx context.Context, reportID string, completedAt time.Time) error { return nil },
		DeleteReportFunc: func(ctx context.Context, reportID, tenant string) error { return nil },
		QueryEventsFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Collection[types.AttendanceEvent], error) {
			return types.Collection[types.AttendanceEvent]{}, nil
		},
		CountEventsByTypeFunc: func(ctx context.Context, tenant string, from, to time.Time) (map[string]int64, error) {
			return map[string]int64{}, nil
		},
	}
}
