package types

import (
	"encoding/json"
	"time"
)

// HookKind identifies one kind of in-process hook bus event.
type HookKind string

const (
	HookEventIngested       HookKind = "onEventIngested"
	HookDeviceRegistered    HookKind = "onDeviceRegistered"
	HookDeviceHeartbeat     HookKind = "onDeviceHeartbeat"
	HookDeviceCommand       HookKind = "onDeviceCommand"
	HookDeviceRevoked       HookKind = "onDeviceRevoked"
	HookFirmwareFailure     HookKind = "onFirmwareFailure"
	HookCommandAcknowledged HookKind = "onCommandAcknowledged"
	HookReportGenerated     HookKind = "onReportGenerated"
	HookDuplicateEvent      HookKind = "onDuplicateEvent"
	HookInvalidEvent        HookKind = "onInvalidEvent"
)

// Topic messages published on the message bus when hook events are
// bridged out of the process. Implements messaging.TopicMessage.

type EventIngested struct {
	EventID    string    `json:"eventID"`
	EmployeeID string    `json:"employeeID"`
	EventType  string    `json:"eventType"`
	DeviceID   string    `json:"deviceID"`
	Tenant     string    `json:"tenant"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *EventIngested) Body() []byte {
	b, _ := json.Marshal(m)
	return b
}
func (m *EventIngested) ContentType() string {
	return "application/json"
}
func (m *EventIngested) TopicName() string {
	return "attendance.eventIngested"
}

type DeviceRegistered struct {
	DeviceID   string    `json:"deviceID"`
	DeviceType string    `json:"deviceType"`
	Tenant     string    `json:"tenant"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *DeviceRegistered) Body() []byte {
	b, _ := json.Marshal(m)
	return b
}
func (m *DeviceRegistered) ContentType() string {
	return "application/json"
}
func (m *DeviceRegistered) TopicName() string {
	return "attendance.deviceRegistered"
}

type DeviceRevoked struct {
	DeviceID  string    `json:"deviceID"`
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *DeviceRevoked) Body() []byte {
	b, _ := json.Marshal(m)
	return b
}
func (m *DeviceRevoked) ContentType() string {
	return "application/json"
}
func (m *DeviceRevoked) TopicName() string {
	return "attendance.deviceRevoked"
}

type CommandAcknowledged struct {
	CommandID string    `json:"commandID"`
	DeviceID  string    `json:"deviceID"`
	Tenant    string    `json:"tenant"`
	AckStatus string    `json:"ackStatus"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *CommandAcknowledged) Body() []byte {
	b, _ := json.Marshal(m)
	return b
}
func (m *CommandAcknowledged) ContentType() string {
	return "application/json"
}
func (m *CommandAcknowledged) TopicName() string {
	return "attendance.commandAcknowledged"
}

type FirmwareFailure struct {
	DeviceID   string    `json:"deviceID"`
	FirmwareID string    `json:"firmwareID"`
	Tenant     string    `json:"tenant"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *FirmwareFailure) Body() []byte {
	b, _ := json.Marshal(m)
	return b
}
func (m *FirmwareFailure) ContentType() string {
	return "application/json"
}
func (m *FirmwareFailure) TopicName() string {
	return "attendance.firmwareFailure"
}

type ReportGenerated struct {
	ReportID  string    `json:"reportID"`
	Tenant    string    `json:"tenant"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *ReportGenerated) Body() []byte {
	b, _ := json.Marshal(m)
	return b
}
func (m *ReportGenerated) ContentType() string {
	return "application/json"
}
func (m *ReportGenerated) TopicName() string {
	return "attendance.reportGenerated"
}
