package attest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"

	"github.com/toonwire/attendance-mgmt/internal/pkg/infrastructure/storage"
	"github.com/toonwire/attendance-mgmt/pkg/keys"
	"github.com/toonwire/attendance-mgmt/pkg/toon"
	"github.com/toonwire/attendance-mgmt/pkg/types"
)

var tracer = otel.Tracer("attendance-mgmt/attest")

const (
	defaultMaxClockSkew = 5 * time.Minute
	defaultNonceTTL     = 24 * time.Hour

	// per-device negative cache bound; the nonce table stays authoritative
	maxCachedNonces = 1000
)

// AttestationStorage is the slice of the storage layer the pipeline
// needs: device lookup, nonce marking, rate counters and the audit
// trail for rejections.
//
//go:generate moq -rm -out attestationstorage_mock.go . AttestationStorage
type AttestationStorage interface {
	GetDevice(ctx context.Context, conditions ...storage.ConditionFunc) (types.Device, error)
	MarkNonce(ctx context.Context, deviceID, nonceHash string, usedAt, expiresAt time.Time) error
	IncrementRateCounter(ctx context.Context, deviceID, endpoint string, windowStart time.Time) (int64, error)
	AddAudit(ctx context.Context, audit types.AuditRecord) error
}

// Limit is a fixed rate window with a cap on requests per window.
type Limit struct {
	Window time.Duration `yaml:"window"`
	Cap    int64         `yaml:"cap"`
}

type Config struct {
	MaxClockSkew time.Duration
	NonceTTL     time.Duration
	Limits       map[string]Limit
	DefaultLimit Limit
}

func DefaultConfig() Config {
	return Config{
		MaxClockSkew: defaultMaxClockSkew,
		NonceTTL:     defaultNonceTTL,
		Limits: map[string]Limit{
			"/devices/heartbeat": {Window: time.Hour, Cap: 100},
		},
		DefaultLimit: Limit{Window: time.Hour, Cap: 1000},
	}
}

// Request is what an attested handler receives: the verified device,
// the decoded tokens (first fragment for batch payloads) and the
// verbatim inbound payload for auditing.
type Request struct {
	Device types.Device
	Tokens map[string]any
	Raw    string
}

type Handler func(w http.ResponseWriter, r *http.Request, req Request)

type mode int

const (
	modeSingle mode = iota
	modeBatch
	modeRegister
)

// Pipeline implements the device attestation checks that guard every
// device-facing endpoint: token presence, clock skew, device lookup,
// rate limiting, nonce replay and payload signature.
type Pipeline struct {
	storage AttestationStorage
	cfg     Config

	mu     sync.Mutex
	caches map[string]*lru.Cache[string, time.Time]

	now func() time.Time
}

func NewPipeline(storage AttestationStorage, cfg Config) *Pipeline {
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = defaultMaxClockSkew
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = defaultNonceTTL
	}
	if cfg.DefaultLimit.Window <= 0 {
		cfg.DefaultLimit = Limit{Window: time.Hour, Cap: 1000}
	}

	return &Pipeline{
		storage: storage,
		cfg:     cfg,
		caches:  make(map[string]*lru.Cache[string, time.Time]),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Protect runs the full pipeline on a single-payload endpoint.
func (p *Pipeline) Protect(endpoint string, required []string, next Handler) http.HandlerFunc {
	return p.protect(endpoint, required, modeSingle, next)
}

// ProtectBatch guards batch endpoints. Attestation tokens are read
// from the first fragment; legacy devices that do not attest their
// batches are let through on device lookup alone.
func (p *Pipeline) ProtectBatch(endpoint string, required []string, next Handler) http.HandlerFunc {
	return p.protect(endpoint, required, modeBatch, next)
}

// ProtectRegister guards the registration endpoint, where no stored
// public key exists yet. The signature is verified against the key
// the device presents in D4 (trust on first use).
func (p *Pipeline) ProtectRegister(endpoint string, required []string, next Handler) http.HandlerFunc {
	return p.protect(endpoint, required, modeRegister, next)
}

func (p *Pipeline) protect(endpoint string, required []string, m mode, next Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "attest")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

		payload, perr := readPayload(r)
		if perr != nil {
			err = perr
			WriteError(w, perr, p.now())
			return
		}

		tokens, perr := p.tokenize(payload, m)
		if perr != nil {
			err = perr
			WriteError(w, perr, p.now())
			return
		}

		deviceID := tokenString(tokens, "D1")

		if missing := missingTokens(tokens, required); len(missing) > 0 {
			err = types.ErrMissingTokens(missing...)
			p.reject(ctx, w, log, endpoint, deviceID, "", payload, err.(*types.ProtocolError))
			return
		}

		// legacy batch uploads may omit freshness tokens entirely
		fresh := m != modeBatch || hasFreshnessTokens(tokens)

		if fresh {
			if perr := p.checkSkew(tokens); perr != nil {
				err = perr
				p.reject(ctx, w, log, endpoint, deviceID, "", payload, perr)
				return
			}
		}

		var device types.Device
		var publicKeyPEM string

		if m == modeRegister {
			publicKeyPEM, perr = registrationKey(tokens)
			if perr != nil {
				err = perr
				p.reject(ctx, w, log, endpoint, deviceID, "", payload, perr)
				return
			}
			device = types.Device{DeviceID: deviceID}
		} else {
			device, perr = p.lookupDevice(ctx, deviceID)
			if perr != nil {
				err = perr
				p.reject(ctx, w, log, endpoint, deviceID, "", payload, perr)
				return
			}
			publicKeyPEM = device.PublicKeyPEM
		}

		if perr := p.checkRateLimit(ctx, deviceID, endpoint); perr != nil {
			err = perr
			p.reject(ctx, w, log, endpoint, deviceID, device.Tenant, payload, perr)
			return
		}

		if fresh {
			if perr := p.checkNonce(ctx, deviceID, tokenString(tokens, "NONCE")); perr != nil {
				err = perr
				p.reject(ctx, w, log, endpoint, deviceID, device.Tenant, payload, perr)
				return
			}

			if verr := keys.Verify(publicKeyPEM, toon.Canonical(tokens), tokenString(tokens, "SIG1")); verr != nil {
				err = types.ErrSignatureInvalid()
				p.reject(ctx, w, log, endpoint, deviceID, device.Tenant, payload, err.(*types.ProtocolError))
				return
			}
		}

		next(w, r.WithContext(ctx), Request{Device: device, Tokens: tokens, Raw: payload})
	}
}

func (p *Pipeline) tokenize(payload string, m mode) (map[string]any, *types.ProtocolError) {
	fragment := payload
	if m == modeBatch {
		fragments := toon.RawFragments(payload)
		if len(fragments) == 0 {
			return nil, types.ErrEmptyPayload()
		}
		fragment = fragments[0]
	}

	tokens, err := toon.DecodeLegacy(fragment)
	if err != nil {
		return nil, types.ErrPayloadCorrupted(err.Error())
	}

	return tokens, nil
}

func (p *Pipeline) checkSkew(tokens map[string]any) *types.ProtocolError {
	ts, ok := parseTimestamp(tokens["TS"])
	if !ok {
		return types.ErrTimestampSkew()
	}

	skew := p.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > p.cfg.MaxClockSkew {
		return types.ErrTimestampSkew()
	}

	return nil
}

func (p *Pipeline) lookupDevice(ctx context.Context, deviceID string) (types.Device, *types.ProtocolError) {
	device, err := p.storage.GetDevice(ctx, storage.WithDeviceID(deviceID))
	if errors.Is(err, storage.ErrNoRows) {
		return types.Device{}, types.ErrDeviceNotFound()
	}
	if err != nil {
		return types.Device{}, types.ErrInternal()
	}
	if device.Revoked() {
		return types.Device{}, types.ErrDeviceRevoked()
	}

	return device, nil
}

func (p *Pipeline) checkRateLimit(ctx context.Context, deviceID, endpoint string) *types.ProtocolError {
	limit, ok := p.cfg.Limits[endpoint]
	if !ok {
		limit = p.cfg.DefaultLimit
	}

	now := p.now()
	windowStart := now.Truncate(limit.Window)

	count, err := p.storage.IncrementRateCounter(ctx, deviceID, endpoint, windowStart)
	if err != nil {
		return types.ErrInternal()
	}

	if count > limit.Cap {
		retryAfter := int(windowStart.Add(limit.Window).Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return types.ErrRateLimited(retryAfter)
	}

	return nil
}

// checkNonce enforces at-most-once per (device, nonce). The LRU only
// short-circuits repeats; the unique constraint on the nonce table is
// what makes concurrent replays lose.
func (p *Pipeline) checkNonce(ctx context.Context, deviceID, nonce string) *types.ProtocolError {
	if nonce == "" {
		return types.ErrMissingTokens("NONCE")
	}

	sum := sha256.Sum256([]byte(nonce))
	hash := hex.EncodeToString(sum[:])

	now := p.now()
	expiresAt := now.Add(p.cfg.NonceTTL)

	// a cached hash whose row the watchdog already purged must not
	// keep rejecting the nonce, so expired hits count as misses
	cache := p.cacheFor(deviceID)
	if exp, ok := cache.Get(hash); ok {
		if now.Before(exp) {
			return types.ErrNonceReuse()
		}
		cache.Remove(hash)
	}

	err := p.storage.MarkNonce(ctx, deviceID, hash, now, expiresAt)
	if errors.Is(err, storage.ErrNonceReused) {
		cache.Add(hash, expiresAt)
		return types.ErrNonceReuse()
	}
	if err != nil {
		return types.ErrInternal()
	}

	cache.Add(hash, expiresAt)
	return nil
}

func (p *Pipeline) cacheFor(deviceID string) *lru.Cache[string, time.Time] {
	p.mu.Lock()
	defer p.mu.Unlock()

	cache, ok := p.caches[deviceID]
	if !ok {
		cache, _ = lru.New[string, time.Time](maxCachedNonces)
		p.caches[deviceID] = cache
	}

	return cache
}

func (p *Pipeline) reject(ctx context.Context, w http.ResponseWriter, log *slog.Logger, endpoint, deviceID, tenant, payload string, perr *types.ProtocolError) {
	now := p.now()
	response := RenderError(perr, now)

	audit := types.AuditRecord{
		AuditID:   uuid.NewString(),
		DeviceID:  deviceID,
		Tenant:    tenant,
		Endpoint:  endpoint,
		Payload:   payload,
		Response:  response,
		Status:    "rejected",
		CreatedAt: now,
	}
	if err := p.storage.AddAudit(ctx, audit); err != nil {
		log.Error("failed to audit rejection", "endpoint", endpoint, "err", err.Error())
	}

	writeToon(w, perr.HTTPStatus, response)
}

// WriteError renders a protocol error as a legacy TOON response.
func WriteError(w http.ResponseWriter, perr *types.ProtocolError, now time.Time) {
	writeToon(w, perr.HTTPStatus, RenderError(perr, now))
}

// RenderError keeps the fixed ERR1|ERR2|RTO|TS token order devices
// parse positionally. Detail may contain commas, so legacy escaping
// must not run over it.
func RenderError(perr *types.ProtocolError, now time.Time) string {
	parts := []string{"ERR1:" + perr.Code}
	if perr.Detail != "" {
		parts = append(parts, "ERR2:"+perr.Detail)
	}
	if perr.RetryAfter > 0 {
		parts = append(parts, fmt.Sprintf("RTO:%d", perr.RetryAfter))
	}
	parts = append(parts, "TS:"+now.UTC().Format(time.RFC3339))

	return strings.Join(parts, "|")
}

func writeToon(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/toon")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func readPayload(r *http.Request) (string, *types.ProtocolError) {
	if r.Method == http.MethodGet {
		payload := payloadFromQuery(r)
		if payload == "" {
			return "", types.ErrEmptyPayload()
		}
		return payload, nil
	}

	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", types.ErrPayloadCorrupted("unreadable body")
	}

	payload := strings.TrimSpace(string(body))
	if strings.EqualFold(r.Header.Get("Content-Transfer-Encoding"), "base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", types.ErrPayloadCorrupted("invalid base64 body")
		}
		payload = strings.TrimSpace(string(decoded))
	}

	if payload == "" {
		return "", types.ErrEmptyPayload()
	}

	return payload, nil
}

// payloadFromQuery reassembles a legacy payload from query parameters
// for attested GET endpoints. Order does not matter since the signed
// canonical form is sorted.
func payloadFromQuery(r *http.Request) string {
	parts := []string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			parts = append(parts, key+":"+values[0])
		}
	}
	sort.Strings(parts)

	return strings.Join(parts, "|")
}

func registrationKey(tokens map[string]any) (string, *types.ProtocolError) {
	pemKey, err := keys.PublicKeyFromBase64(tokenString(tokens, "D4"))
	if err != nil {
		return "", types.ErrSignatureInvalid()
	}
	return pemKey, nil
}

func missingTokens(tokens map[string]any, required []string) []string {
	missing := []string{}
	for _, key := range required {
		if _, ok := tokens[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func hasFreshnessTokens(tokens map[string]any) bool {
	_, hasSig := tokens["SIG1"]
	return hasSig
}

func tokenString(tokens map[string]any, key string) string {
	switch v := tokens[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		if ts, err := time.Parse("2006-01-02T15:04:05", t); err == nil {
			return ts.UTC(), true
		}
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	}
	return time.Time{}, false
}
