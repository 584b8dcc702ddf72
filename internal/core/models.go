// services/gateway/internal/core/models.go
package core

import (
	"encoding/json"
	"time"
)

// DeviceRecord is one registered device as known to the gateway.
type DeviceRecord struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// InboundEnvelope is one published MQTT message as seen by the router.
// Produced per publish event and consumed synchronously.
type InboundEnvelope struct {
	Topic    string
	Payload  []byte
	SenderID string
	QoS      byte
	Retain   bool
}

// CommandRequest is a backend-originated command addressed to a single
// device or to a device group. CorrelationID is the backend's command
// identifier; delivery reports carry it back unchanged.
type CommandRequest struct {
	Device        string          `json:"device,omitempty"`
	Group         string          `json:"deviceGroup,omitempty"`
	Command       json.RawMessage `json:"command"`
	CorrelationID string          `json:"commandId"`
}

// CommandRecord is one journaled relay attempt. Every resolved target
// device gets its own record with a fresh command id.
type CommandRecord struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	CommandID     string     `json:"command_id" gorm:"uniqueIndex;not null"`
	CorrelationID string     `json:"correlation_id" gorm:"index"`
	DeviceID      string     `json:"device_id" gorm:"index;not null"`
	GroupID       string     `json:"group_id" gorm:"index"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status" gorm:"index;not null"`
	FailureReason string     `json:"failure_reason"`
	SentAt        time.Time  `json:"sent_at"`
	AckedAt       *time.Time `json:"acked_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName overrides for GORM
func (CommandRecord) TableName() string { return "command_journal" }

// Command journal statuses
const (
	CommandStatusSent         = "sent"
	CommandStatusAcknowledged = "acknowledged"
	CommandStatusFailed       = "failed"
	CommandStatusRedelivered  = "redelivered"
)
