package types

import (
	"time"
)

const (
	DeviceTypeMobile              = "MOBILE"
	DeviceTypeKiosk               = "KIOSK"
	DeviceTypeRPi                 = "RPI"
	DeviceTypeFingerprintTerminal = "FINGERPRINT_TERMINAL"
)

const (
	CapabilityFace        = "FACE"
	CapabilityFingerprint = "FINGERPRINT"
	CapabilityLiveness    = "LIVENESS"
)

const (
	DeviceStatusActive  = "active"
	DeviceStatusRevoked = "revoked"
)

func IsValidDeviceType(t string) bool {
	switch t {
	case DeviceTypeMobile, DeviceTypeKiosk, DeviceTypeRPi, DeviceTypeFingerprintTerminal:
		return true
	}
	return false
}

type Device struct {
	DeviceID        string    `json:"deviceID"`
	Tenant          string    `json:"tenant"`
	DeviceType      string    `json:"deviceType"`
	PublicKeyPEM    string    `json:"publicKey"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
	Status          string    `json:"status"`
	PolicyID        string    `json:"policyID,omitempty"`
	LastSeen        time.Time `json:"lastSeen"`
	RegisteredAt    time.Time `json:"registeredAt"`
}

func (d Device) Revoked() bool {
	return d.Status == DeviceStatusRevoked
}

const (
	EventTypeIn          = "IN"
	EventTypeOut         = "OUT"
	EventTypeBreakStart  = "BREAK_START"
	EventTypeBreakEnd    = "BREAK_END"
	EventTypeOvertimeIn  = "OVERTIME_IN"
	EventTypeOvertimeOut = "OVERTIME_OUT"
)

func IsValidEventType(t string) bool {
	switch t {
	case EventTypeIn, EventTypeOut, EventTypeBreakStart, EventTypeBreakEnd, EventTypeOvertimeIn, EventTypeOvertimeOut:
		return true
	}
	return false
}

const (
	EventStatusProcessed = "processed"
	EventStatusDuplicate = "duplicate"
	EventStatusRejected  = "rejected"
)

type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

type Scores struct {
	Face        *float64 `json:"face,omitempty"`
	Fingerprint *float64 `json:"fingerprint,omitempty"`
	Liveness    *float64 `json:"liveness,omitempty"`
	Quality     *float64 `json:"quality,omitempty"`
}

type BreakInfo struct {
	Type      string `json:"type,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	OverBreak bool   `json:"overBreak,omitempty"`
}

// AttendanceEvent is immutable once persisted. A duplicate insert for
// the same EventID yields a duplicate status and no new row.
type AttendanceEvent struct {
	EventID         string     `json:"eventID"`
	EmployeeID      string     `json:"employeeID"`
	EventType       string     `json:"eventType"`
	Timestamp       time.Time  `json:"timestamp"`
	DeviceID        string     `json:"deviceID"`
	Tenant          string     `json:"tenant"`
	Location        *Location  `json:"location,omitempty"`
	Scores          *Scores    `json:"scores,omitempty"`
	Break           *BreakInfo `json:"break,omitempty"`
	ConsentToken    string     `json:"consentToken,omitempty"`
	DeviceSignature string     `json:"deviceSignature,omitempty"`
	RawPayload      string     `json:"rawPayload,omitempty"`
	Status          string     `json:"status"`
	ReceivedAt      time.Time  `json:"receivedAt"`
}

// EventResult is the per-event outcome reported back to the device in
// the batch response, in input order.
type EventResult struct {
	EventID string
	Status  string
	Reason  string
	Missing []string
}

type Employee struct {
	EmployeeID   string    `json:"employeeID"`
	Tenant       string    `json:"tenant"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Active       bool      `json:"active"`
	ConsentToken string    `json:"consentToken,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

const (
	CommandStatusPending   = "pending"
	CommandStatusCompleted = "completed"
	CommandStatusExpired   = "expired"
)

type Command struct {
	CommandID       string     `json:"commandID"`
	DeviceID        string     `json:"deviceID"`
	Tenant          string     `json:"tenant"`
	Name            string     `json:"name"`
	Payload         string     `json:"payload,omitempty"`
	Priority        int        `json:"priority"`
	IssuedAt        time.Time  `json:"issuedAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	ServerSignature string     `json:"serverSignature"`
	Status          string     `json:"status"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	AckStatus       string     `json:"ackStatus,omitempty"`
	AckMessage      string     `json:"ackMessage,omitempty"`
	ExecutionTimeMS *int       `json:"executionTimeMs,omitempty"`
	RawAck          string     `json:"rawAck,omitempty"`
}

type FirmwareRelease struct {
	FirmwareID        string     `json:"firmwareID"`
	Version           string     `json:"version"`
	DeviceType        string     `json:"deviceType"`
	BundleURLTemplate string     `json:"bundleURLTemplate"`
	Checksum          string     `json:"checksum"`
	SizeBytes         int64      `json:"sizeBytes"`
	PolicyID          string     `json:"policyID,omitempty"`
	ServerSignature   string     `json:"serverSignature"`
	CreatedAt         time.Time  `json:"createdAt"`
	DeprecatedAt      *time.Time `json:"deprecatedAt,omitempty"`
}

const (
	FirmwareStatusChecking    = "checking"
	FirmwareStatusDownloading = "downloading"
	FirmwareStatusApplied     = "applied"
	FirmwareStatusFailed      = "failed"
)

type DeviceFirmwareStatus struct {
	DeviceID   string    `json:"deviceID"`
	FirmwareID string    `json:"firmwareID"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AuditRecord stores one inbound device payload verbatim, together
// with the response that was sent back. Append-only.
type AuditRecord struct {
	AuditID   string    `json:"auditID"`
	DeviceID  string    `json:"deviceID,omitempty"`
	Tenant    string    `json:"tenant,omitempty"`
	Endpoint  string    `json:"endpoint"`
	Payload   string    `json:"payload"`
	Response  string    `json:"response"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	ReportStatusPending = "pending"
	ReportStatusReady   = "ready"
	ReportStatusFailed  = "failed"
)

type Report struct {
	ReportID    string         `json:"reportID"`
	Tenant      string         `json:"tenant"`
	Kind        string         `json:"kind"`
	Params      map[string]any `json:"params,omitempty"`
	Status      string         `json:"status"`
	ContentType string         `json:"contentType,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

type DeviceLogEntry struct {
	DeviceID string    `json:"deviceID"`
	Tenant   string    `json:"tenant"`
	Level    string    `json:"level"`
	Message  string    `json:"message"`
	LoggedAt time.Time `json:"loggedAt"`
}

type Collection[T any] struct {
	Data       []T
	Count      uint64
	Offset     uint64
	Limit      uint64
	TotalCount uint64
}
