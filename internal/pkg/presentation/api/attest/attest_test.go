package attest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/toon"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

var heartbeatTokens = []string{"D1", "HB1", "HB2", "TS", "NONCE", "SIG1"}

func TestAttestedRequestReachesHandler(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	p := NewPipeline(store, DefaultConfig())

	var got Request
	handler := p.Protect("/devices/heartbeat", heartbeatTokens, func(w http.ResponseWriter, r *http.Request, req Request) {
		got = req
		w.WriteHeader(http.StatusOK)
	})

	payload := signPayload(t, privPEM, "D1:dev_1|HB1:80|HB2:45|NONCE:nonce-1|TS:"+nowISO())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))

	is.Equal(w.Code, http.StatusOK)
	is.Equal(got.Device.DeviceID, "dev_1")
	is.Equal(got.Raw, payload)
}

func TestClockSkewRejected(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	p := NewPipeline(store, DefaultConfig())

	handler := p.Protect("/devices/heartbeat", heartbeatTokens, rejectAll(t))

	stale := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	payload := signPayload(t, privPEM, "D1:dev_1|HB1:80|HB2:45|NONCE:nonce-1|TS:"+stale)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))

	is.Equal(w.Code, http.StatusBadRequest)
	is.True(strings.Contains(w.Body.String(), "ERR1:timestamp_invalid"))
	is.True(strings.Contains(w.Body.String(), "RTO:60"))

	// no DB mutation on skew rejection
	is.Equal(len(store.MarkNonceCalls()), 0)

	audits := store.AddAuditCalls()
	is.Equal(len(audits), 1)
	is.Equal(audits[0].Audit.Payload, payload)
}

func TestNonceReplayLosesExactlyOnce(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)

	var seen sync.Map
	store.MarkNonceFunc = func(ctx context.Context, deviceID, nonceHash string, usedAt, expiresAt time.Time) error {
		if _, loaded := seen.LoadOrStore(deviceID+"/"+nonceHash, struct{}{}); loaded {
			return storage.ErrNonceReused
		}
		return nil
	}

	p := NewPipeline(store, DefaultConfig())
	handler := p.Protect("/devices/heartbeat", heartbeatTokens, func(w http.ResponseWriter, r *http.Request, req Request) {
		w.Write([]byte("S1:ok"))
	})

	payload := signPayload(t, privPEM, "D1:dev_1|HB1:80|HB2:45|NONCE:replay-me|TS:"+nowISO())

	results := make(chan *httptest.ResponseRecorder, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))
			results <- w
		}()
	}
	wg.Wait()
	close(results)

	accepted, rejected := 0, 0
	for w := range results {
		switch w.Code {
		case http.StatusOK:
			accepted++
		case http.StatusForbidden:
			rejected++
			is.True(strings.Contains(w.Body.String(), "ERR1:NONCE_REUSE"))
		default:
			t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
		}
	}
	is.Equal(accepted, 1)
	is.Equal(rejected, 1)
}

func TestNonceCacheShortCircuitsRepeats(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	p := NewPipeline(store, DefaultConfig())

	handler := p.Protect("/devices/heartbeat", heartbeatTokens, func(w http.ResponseWriter, r *http.Request, req Request) {
		w.WriteHeader(http.StatusOK)
	})

	payload := signPayload(t, privPEM, "D1:dev_1|HB1:80|HB2:45|NONCE:cached|TS:"+nowISO())

	first := httptest.NewRecorder()
	handler(first, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))
	is.Equal(first.Code, http.StatusOK)

	second := httptest.NewRecorder()
	handler(second, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))
	is.Equal(second.Code, http.StatusForbidden)

	// the repeat never reached the store
	is.Equal(len(store.MarkNonceCalls()), 1)
}

func TestNonceBecomesReusableAfterRetentionExpires(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)

	cfg := DefaultConfig()
	cfg.NonceTTL = time.Hour
	p := NewPipeline(store, cfg)

	current := time.Now().UTC()
	p.now = func() time.Time { return current }

	handler := p.Protect("/devices/heartbeat", heartbeatTokens, func(w http.ResponseWriter, r *http.Request, req Request) {
		w.WriteHeader(http.StatusOK)
	})

	send := func() *httptest.ResponseRecorder {
		payload := signPayload(t, privPEM, "D1:dev_1|HB1:80|HB2:45|NONCE:reborn|TS:"+current.Format(time.RFC3339))
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))
		return w
	}

	is.Equal(send().Code, http.StatusOK)
	is.Equal(send().Code, http.StatusForbidden) // cached within the retention window

	// after the retention window the purged row is free again and the
	// stale cache entry must not keep rejecting it
	current = current.Add(2 * time.Hour)
	is.Equal(send().Code, http.StatusOK)
	is.Equal(len(store.MarkNonceCalls()), 2)
}

func TestTamperedPayloadRejected(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	p := NewPipeline(store, DefaultConfig())

	handler := p.Protect("/devices/heartbeat", heartbeatTokens, rejectAll(t))

	payload := signPayload(t, privPEM, "D1:dev_1|HB1:80|HB2:45|NONCE:nonce-2|TS:"+nowISO())
	tampered := strings.Replace(payload, "HB1:80", "HB1:99", 1)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(tampered)))

	is.Equal(w.Code, http.StatusUnauthorized)
	is.True(strings.Contains(w.Body.String(), "ERR1:SIG_INVALID"))
	is.Equal(len(store.AddAuditCalls()), 1)
}

func TestUnknownDeviceRejected(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	store.GetDeviceFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error) {
		return types.Device{}, storage.ErrNoRows
	}

	p := NewPipeline(store, DefaultConfig())
	handler := p.Protect("/devices/heartbeat", heartbeatTokens, rejectAll(t))

	payload := signPayload(t, privPEM, "D1:dev_x|HB1:80|HB2:45|NONCE:nonce-3|TS:"+nowISO())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))

	is.Equal(w.Code, http.StatusUnauthorized)
	is.True(strings.Contains(w.Body.String(), "ERR1:device_not_found"))
}

func TestRevokedDeviceRejected(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	store.GetDeviceFunc = func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error) {
		return types.Device{DeviceID: "dev_1", PublicKeyPEM: pubPEM, Status: types.DeviceStatusRevoked}, nil
	}

	p := NewPipeline(store, DefaultConfig())
	handler := p.Protect("/devices/heartbeat", heartbeatTokens, rejectAll(t))

	payload := signPayload(t, privPEM, "D1:dev_1|HB1:80|HB2:45|NONCE:nonce-4|TS:"+nowISO())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))

	is.Equal(w.Code, http.StatusForbidden)
	is.True(strings.Contains(w.Body.String(), "ERR1:device_revoked"))
}

func TestRateLimitExceeded(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	store.IncrementRateCounterFunc = func(ctx context.Context, deviceID, endpoint string, windowStart time.Time) (int64, error) {
		return 101, nil
	}

	p := NewPipeline(store, DefaultConfig())
	handler := p.Protect("/devices/heartbeat", heartbeatTokens, rejectAll(t))

	payload := signPayload(t, privPEM, "D1:dev_1|HB1:80|HB2:45|NONCE:nonce-5|TS:"+nowISO())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader(payload)))

	is.Equal(w.Code, http.StatusTooManyRequests)
	is.True(strings.Contains(w.Body.String(), "ERR1:RATE_LIMIT"))
	is.True(strings.Contains(w.Body.String(), "RTO:"))
}

func TestMissingTokensRejected(t *testing.T) {
	is := is.New(t)
	pubPEM, _ := newKeyPair(t)
	store := newMockStorage(pubPEM)
	p := NewPipeline(store, DefaultConfig())

	handler := p.Protect("/devices/heartbeat", heartbeatTokens, rejectAll(t))

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/heartbeat", strings.NewReader("D1:dev_1|HB1:80")))

	is.Equal(w.Code, http.StatusBadRequest)
	is.True(strings.Contains(w.Body.String(), "ERR1:missing_tokens"))

	audits := store.AddAuditCalls()
	is.Equal(len(audits), 1)
	is.Equal(audits[0].Audit.Payload, "D1:dev_1|HB1:80")
}

func TestBatchWithoutFreshnessTokensPassesOnDeviceLookup(t *testing.T) {
	is := is.New(t)
	pubPEM, _ := newKeyPair(t)
	store := newMockStorage(pubPEM)
	p := NewPipeline(store, DefaultConfig())

	called := false
	handler := p.ProtectBatch("/devices/events", []string{"D1"}, func(w http.ResponseWriter, r *http.Request, req Request) {
		called = true
		is.Equal(req.Device.DeviceID, "dev_1")
		w.WriteHeader(http.StatusOK)
	})

	body := "E1:emp_1|A1:evt_a|A2:IN|A3:2025-01-01T09:00:00Z|D1:dev_1||E1:emp_1|A1:evt_b|A2:OUT|A3:2025-01-01T17:00:00Z|D1:dev_1"

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/events", strings.NewReader(body)))

	is.Equal(w.Code, http.StatusOK)
	is.True(called)
	is.Equal(len(store.MarkNonceCalls()), 0)
}

func TestRegisterVerifiesPresentedKey(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	p := NewPipeline(store, DefaultConfig())

	called := false
	handler := p.ProtectRegister("/devices/register", []string{"D1", "D2", "D4", "TS", "NONCE", "SIG1"}, func(w http.ResponseWriter, r *http.Request, req Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	b64, err := keys.PublicKeyToBase64(pubPEM)
	is.NoErr(err)

	payload := signPayload(t, privPEM, "D1:dev_new|D2:KIOSK|D4:"+b64+"|NONCE:nonce-6|TS:"+nowISO())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/devices/register", strings.NewReader(payload)))

	is.Equal(w.Code, http.StatusOK)
	is.True(called)
	is.Equal(len(store.GetDeviceCalls()), 0)
}

func TestGetEndpointReadsQueryTokens(t *testing.T) {
	is := is.New(t)
	pubPEM, privPEM := newKeyPair(t)
	store := newMockStorage(pubPEM)
	p := NewPipeline(store, DefaultConfig())

	called := false
	handler := p.Protect("/devices/commands", []string{"D1", "TS", "NONCE", "SIG1"}, func(w http.ResponseWriter, r *http.Request, req Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	ts := nowISO()
	signed := signPayload(t, privPEM, "D1:dev_1|NONCE:nonce-7|TS:"+ts)
	sig := signed[strings.LastIndex(signed, "SIG1:")+len("SIG1:"):]

	q := url.Values{}
	q.Set("D1", "dev_1")
	q.Set("NONCE", "nonce-7")
	q.Set("TS", ts)
	q.Set("SIG1", sig)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/devices/commands?"+q.Encode(), nil))

	is.Equal(w.Code, http.StatusOK)
	is.True(called)
}

func rejectAll(t *testing.T) Handler {
	return func(w http.ResponseWriter, r *http.Request, req Request) {
		t.Fatal("handler should not have been reached")
	}
}

func newKeyPair(t *testing.T) (string, string) {
	t.Helper()
	pubPEM, privPEM, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return pubPEM, privPEM
}

// signPayload appends a SIG1 token computed over the canonical form of
// the decoded payload, exactly the way a device signs requests.
func signPayload(t *testing.T, privPEM, payload string) string {
	t.Helper()

	tokens, err := toon.DecodeLegacy(payload)
	if err != nil {
		t.Fatal(err)
	}
	priv, err := keys.DecodePrivateKeyPEM(privPEM)
	if err != nil {
		t.Fatal(err)
	}

	return payload + "|SIG1:" + keys.Sign(priv, toon.Canonical(tokens))
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newMockStorage(pubPEM string) *AttestationStorageMock {
	return &AttestationStorageMock{
		GetDeviceFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error) {
			return types.Device{DeviceID: "dev_1", Tenant: "default", PublicKeyPEM: pubPEM, Status: types.DeviceStatusActive}, nil
		},
		MarkNonceFunc: func(ctx context.Context, deviceID, nonceHash string, usedAt, expiresAt time.Time) error {
			return nil
		},
		IncrementRateCounterFunc: func(ctx context.Context, deviceID, endpoint string, windowStart time.Time) (int64, error) {
			return 1, nil
		},
		AddAuditFunc: func(ctx context.Context, audit types.AuditRecord) error {
			return nil
		},
	}
}
