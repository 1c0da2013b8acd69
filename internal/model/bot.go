package model

import (
	"time"
)

// Bot is a tenant's configured assistant. PublicKey authenticates widget
// init calls; AutomationEnabled selects the workflow-engine dispatch path
// over the built-in responder.
type Bot struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID          string    `gorm:"size:64;not null;index" json:"tenant_id"`
	Name              string    `gorm:"size:128;not null" json:"name"`
	PublicKey         string    `gorm:"size:64;not null;uniqueIndex" json:"public_key"`
	AutomationEnabled bool      `gorm:"not null;default:false" json:"automation_enabled"`
	WorkflowID        string    `gorm:"size:64" json:"workflow_id,omitempty"`
	WelcomeMessage    string    `gorm:"type:text" json:"welcome_message,omitempty"`
	SystemPrompt      string    `gorm:"type:text" json:"system_prompt,omitempty"`
	Active            bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Bot) TableName() string { return "bots" }
