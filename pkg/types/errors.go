package types

import (
	"fmt"
	"strings"
)

// Error codes surfaced on the wire as ERR1 tokens.
const (
	ErrCodeEmptyPayload           = "empty_payload"
	ErrCodePayloadCorrupted       = "payload_corrupted"
	ErrCodeMissingTokens          = "missing_tokens"
	ErrCodeInvalidEventType       = "invalid_event_type"
	ErrCodeInvalidTimestampFormat = "invalid_timestamp_format"
	ErrCodeInvalidLocationFormat  = "invalid_location_format"
	ErrCodeInvalidDeviceType      = "invalid_device_type"
	ErrCodeDeviceNotFound         = "device_not_found"
	ErrCodeDeviceRevoked          = "device_revoked"
	ErrCodeTimestampInvalid       = "timestamp_invalid"
	ErrCodeNonceReuse             = "NONCE_REUSE"
	ErrCodeSignatureInvalid       = "SIG_INVALID"
	ErrCodeRateLimit              = "RATE_LIMIT"
	ErrCodeDuplicate              = "duplicate"
	ErrCodeInternal               = "internal_error"
	ErrCodeReportNotFound         = "report_not_found"
	ErrCodeReportNotReady         = "report_not_ready"
	ErrCodeUnauthorized           = "unauthorized"
)

// ProtocolError is the tagged classification for everything that can
// go wrong between parsing a payload and handing it to a handler. It
// carries all the context needed to render a TOON error response.
type ProtocolError struct {
	Code       string
	Detail     string
	RetryAfter int
	HTTPStatus int
}

func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

// Tokens renders the error as response tokens. The server timestamp
// is appended by the response writer, not here.
func (e *ProtocolError) Tokens() map[string]any {
	m := map[string]any{"ERR1": e.Code}
	if e.Detail != "" {
		m["ERR2"] = e.Detail
	}
	if e.RetryAfter > 0 {
		m["RTO"] = float64(e.RetryAfter)
	}
	return m
}

func ErrEmptyPayload() *ProtocolError {
	return &ProtocolError{Code: ErrCodeEmptyPayload, HTTPStatus: 400}
}

func ErrPayloadCorrupted(detail string) *ProtocolError {
	return &ProtocolError{Code: ErrCodePayloadCorrupted, Detail: detail, HTTPStatus: 400}
}

func ErrMissingTokens(keys ...string) *ProtocolError {
	return &ProtocolError{Code: ErrCodeMissingTokens, Detail: strings.Join(keys, ","), HTTPStatus: 400}
}

func ErrInvalidDeviceType(t string) *ProtocolError {
	return &ProtocolError{Code: ErrCodeInvalidDeviceType, Detail: t, HTTPStatus: 400}
}

func ErrDeviceNotFound() *ProtocolError {
	return &ProtocolError{Code: ErrCodeDeviceNotFound, HTTPStatus: 401}
}

func ErrDeviceRevoked() *ProtocolError {
	return &ProtocolError{Code: ErrCodeDeviceRevoked, HTTPStatus: 403}
}

// ErrTimestampSkew hints the device to retry in 60s, once its clock
// has had a chance to resync.
func ErrTimestampSkew() *ProtocolError {
	return &ProtocolError{Code: ErrCodeTimestampInvalid, RetryAfter: 60, HTTPStatus: 400}
}

func ErrNonceReuse() *ProtocolError {
	return &ProtocolError{Code: ErrCodeNonceReuse, HTTPStatus: 403}
}

func ErrSignatureInvalid() *ProtocolError {
	return &ProtocolError{Code: ErrCodeSignatureInvalid, HTTPStatus: 401}
}

func ErrRateLimited(retryAfter int) *ProtocolError {
	return &ProtocolError{Code: ErrCodeRateLimit, RetryAfter: retryAfter, HTTPStatus: 429}
}

func ErrInternal() *ProtocolError {
	return &ProtocolError{Code: ErrCodeInternal, HTTPStatus: 500}
}

func ErrUnauthorized() *ProtocolError {
	return &ProtocolError{Code: ErrCodeUnauthorized, HTTPStatus: 401}
}

func ErrReportNotFound() *ProtocolError {
	return &ProtocolError{Code: ErrCodeReportNotFound, HTTPStatus: 404}
}

func ErrReportNotReady() *ProtocolError {
	return &ProtocolError{Code: ErrCodeReportNotReady, HTTPStatus: 409}
}
