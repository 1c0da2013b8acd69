package model

import (
	"time"
)

// EventLevel classifies the severity of a system event.
type EventLevel string

const (
	LevelInfo     EventLevel = "info"
	LevelWarning  EventLevel = "warning"
	LevelError    EventLevel = "error"
	LevelCritical EventLevel = "critical"
)

// Well-known system event codes.
const (
	EventSignatureInvalid       = "SIGNATURE_INVALID"
	EventCallbackTokenInvalid   = "CALLBACK_TOKEN_INVALID"
	EventCallbackTenantMismatch = "CALLBACK_TENANT_MISMATCH"
	EventBridgeTimeout          = "BRIDGE_TIMEOUT"
	EventBridgeRejected         = "BRIDGE_REJECTED"
	EventDeliveryFailed         = "DELIVERY_FAILED"
	EventReplySuppressed        = "REPLY_SUPPRESSED"
	EventLateCallback           = "LATE_CALLBACK"
	EventUnknownRun             = "UNKNOWN_RUN"
	EventResponderFailed        = "RESPONDER_FAILED"
)

// SystemEvent is an append-only operational event record. TenantID is empty
// for platform-global events.
type SystemEvent struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string     `gorm:"size:64;not null;index:idx_event_code_tenant,priority:1" json:"code"`
	Level     EventLevel `gorm:"size:16;not null" json:"level"`
	Source    string     `gorm:"size:64;not null" json:"source"`
	Message   string     `gorm:"type:text" json:"message"`
	TenantID  string     `gorm:"size:64;index:idx_event_code_tenant,priority:2" json:"tenant_id,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (SystemEvent) TableName() string { return "system_events" }

// IncidentStatus is the investigation state of an incident.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// Incident aggregates repeated system events past the escalation threshold.
type Incident struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Title      string         `gorm:"size:256;not null" json:"title"`
	Severity   EventLevel     `gorm:"size:16;not null" json:"severity"`
	Status     IncidentStatus `gorm:"size:16;not null;default:'open';index:idx_incident_code,priority:1" json:"status"`
	Code       string         `gorm:"size:64;not null;index:idx_incident_code,priority:2" json:"code"`
	TenantID   string         `gorm:"size:64;index:idx_incident_code,priority:3" json:"tenant_id,omitempty"`
	EventCount int            `gorm:"not null;default:0" json:"event_count"`
	RootCause  string         `gorm:"type:text" json:"root_cause,omitempty"`
	Resolution string         `gorm:"type:text" json:"resolution,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Incident) TableName() string { return "incidents" }
