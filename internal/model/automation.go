package model

import (
	"time"
)

// RunStatus is the state of an automation run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunTimedOut  RunStatus = "timed_out"
)

// AutomationRun records one dispatch to the external workflow engine.
//
// At most one run per conversation may be pending at a time; a run leaves
// pending exactly once. Runs are retained for audit and never deleted.
type AutomationRun struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	TenantID       string     `gorm:"size:64;not null;index" json:"tenant_id"`
	ConversationID string     `gorm:"size:36;not null;index:idx_run_conv_status,priority:1" json:"conversation_id"`
	CorrelationID  string     `gorm:"size:36;not null;uniqueIndex" json:"correlation_id"`
	WorkflowID     string     `gorm:"size:64" json:"workflow_id,omitempty"`
	Status         RunStatus  `gorm:"size:16;not null;default:'pending';index:idx_run_conv_status,priority:2" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	LastError      string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// TableName implements the GORM tabler interface.
func (AutomationRun) TableName() string { return "automation_runs" }

// Terminal reports whether the run has left the pending state.
func (r *AutomationRun) Terminal() bool {
	return r.Status != RunPending
}
