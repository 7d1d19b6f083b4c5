package client

import (
	"context"
	"errors"
	"testing"

	test "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/pkg/keys"
)

func TestSendEventsMapsPerEventResults(t *testing.T) {
	is := is.New(t)

	s := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/devices/events"),
			expects.RequestMethod("POST"),
			expects.RequestBodyContaining("A1:evt_a", "A1:evt_b", "E1:emp_1"),
		),
		test.Returns(
			response.Code(200),
			response.Body([]byte("A1:evt_a|S1:accepted||A1:evt_b|S1:duplicate")),
		),
	)
	defer s.Close()

	c := newTestClient(t, s.URL())

	results, err := c.SendEvents(context.Background(), []Event{
		{EventID: "evt_a", EmployeeID: "emp_1", EventType: "IN"},
		{EventID: "evt_b", EmployeeID: "emp_1", EventType: "OUT"},
	})
	is.NoErr(err)

	is.Equal(len(results), 2)
	is.Equal(results[0], Result{EventID: "evt_a", Status: "accepted"})
	is.Equal(results[1], Result{EventID: "evt_b", Status: "duplicate"})
}

func TestHeartbeatParsesPendingWork(t *testing.T) {
	is := is.New(t)

	s := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/devices/heartbeat"),
			expects.RequestBodyContaining("D1:dev_1", "HB1:80", "NONCE:", "SIG1:"),
		),
		test.Returns(
			response.Code(200),
			response.Body([]byte("S1:ok|RTO:300|TS:2025-01-01T09:00:00Z|PENDING_CMDS:2|CMD_IDS:cmd_a;cmd_b")),
		),
	)
	defer s.Close()

	c := newTestClient(t, s.URL())

	status, err := c.Heartbeat(context.Background(), 80, 45, "1.0.0")
	is.NoErr(err)

	is.Equal(status.NextIntervalSeconds, 300)
	is.Equal(status.PendingCommandIDs, []string{"cmd_a", "cmd_b"})
	is.True(!status.FirmwareAvailable)
}

func TestPollCommandsWithEmptyQueue(t *testing.T) {
	is := is.New(t)

	s := test.NewMockServiceThat(
		test.Expects(is,
			expects.RequestPath("/devices/commands"),
			expects.RequestMethod("GET"),
		),
		test.Returns(
			response.Code(200),
			response.Body([]byte("S1:no_commands|TS:2025-01-01T09:00:00Z")),
		),
	)
	defer s.Close()

	c := newTestClient(t, s.URL())

	pending, err := c.PollCommands(context.Background())
	is.NoErr(err)
	is.Equal(len(pending), 0)
}

func TestPollCommandsParsesIndexedFields(t *testing.T) {
	is := is.New(t)

	body := "CMD_COUNT:1|CMD[0].CMD1:cmd_7|CMD[0].CMD2:REBOOT|CMD[0].CMD4:5|CMD[0].CMD5:2025-01-02T00:00:00Z|CMD[0].SIG_SERV:c2ln|TS:2025-01-01T09:00:00Z"

	s := test.NewMockServiceThat(
		test.Expects(is, expects.RequestPath("/devices/commands")),
		test.Returns(response.Code(200), response.Body([]byte(body))),
	)
	defer s.Close()

	c := newTestClient(t, s.URL())

	pending, err := c.PollCommands(context.Background())
	is.NoErr(err)

	is.Equal(len(pending), 1)
	is.Equal(pending[0].CommandID, "cmd_7")
	is.Equal(pending[0].Name, "REBOOT")
	is.Equal(pending[0].Priority, 5.0)
	is.Equal(pending[0].ExpiresAt, "2025-01-02T00:00:00Z")
}

func TestRateLimitResponseDecodesIntoServerError(t *testing.T) {
	is := is.New(t)

	s := test.NewMockServiceThat(
		test.Expects(is, expects.RequestPath("/devices/heartbeat")),
		test.Returns(
			response.Code(429),
			response.Body([]byte("ERR1:RATE_LIMIT|ERR2:limit exceeded for endpoint|RTO:120|TS:2025-01-01T09:00:00Z")),
		),
	)
	defer s.Close()

	c := newTestClient(t, s.URL())

	_, err := c.Heartbeat(context.Background(), 80, 45, "")

	var serverErr *ServerError
	is.True(errors.As(err, &serverErr))
	is.Equal(serverErr.StatusCode, "RATE_LIMIT")
	is.Equal(serverErr.RetryAfterSeconds, 120)
	is.Equal(serverErr.HTTPStatus, 429)
}

func newTestClient(t *testing.T, url string) DeviceClient {
	t.Helper()

	_, privPEM, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	c, err := New(url, "dev_1", privPEM)
	if err != nil {
		t.Fatal(err)
	}
	return c
}
