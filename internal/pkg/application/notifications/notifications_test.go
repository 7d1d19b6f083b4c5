package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/internal/pkg/application/hooks"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

const configYaml = `
notifications:
  - id: report-webhook
    name: report generated
    type: attendance.reportGenerated
    subscribers:
      - endpoint: ENDPOINT
`

func TestLoadConfiguration(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadConfiguration(strings.NewReader(configYaml))
	is.NoErr(err)

	is.Equal(len(cfg.Notifications), 1)
	is.Equal(cfg.Notifications[0].Type, "attendance.reportGenerated")
	is.Equal(cfg.Notifications[0].Subscribers[0].Endpoint, "ENDPOINT")
}

func TestReportGeneratedHookDeliversCloudEvent(t *testing.T) {
	is := is.New(t)

	received := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Clone(context.Background())
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg, err := LoadConfiguration(strings.NewReader(strings.ReplaceAll(configYaml, "ENDPOINT", server.URL)))
	is.NoErr(err)

	bus := hooks.New()
	New(cfg).Register(bus)

	// Emit waits for async subscribers, so delivery is done on return
	bus.Emit(context.Background(), types.HookReportGenerated, types.ReportGenerated{
		ReportID: "rpt_1",
		Tenant:   "default",
		Kind:     "attendance",
	})

	select {
	case r := <-received:
		is.Equal(r.Header.Get("Ce-Type"), "attendance.reportGenerated")
		is.Equal(r.Header.Get("Ce-Source"), "github.com/toonwire/attendance-mgmt")
	default:
		t.Fatal("no notification delivered")
	}
}

func TestUnsubscribedEventTypeIsDropped(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadConfiguration(strings.NewReader(configYaml))
	is.NoErr(err)

	err = New(cfg).Send(context.Background(), "attendance.deviceRevoked", types.DeviceRevoked{DeviceID: "dev_1"})
	is.NoErr(err)
}
