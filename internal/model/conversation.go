// Package model defines persistence models for the messaging platform.
package model

import (
	"time"
)

// Channel identifies the ingress channel of a conversation.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWidget   Channel = "widget"
)

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	StatusAIActive      ConversationStatus = "ai_active"
	StatusHumanTakeover ConversationStatus = "human_takeover"
	StatusWaiting       ConversationStatus = "waiting"
	StatusClosed        ConversationStatus = "closed"
)

// Conversation is the authoritative record of one customer thread.
//
// Invariant: Status == human_takeover implies IsAIPaused == true. The
// converse does not hold; an operator may pause the AI without formally
// taking over.
type Conversation struct {
	ID             string             `gorm:"primaryKey;size:36" json:"id"`
	TenantID       string             `gorm:"size:64;not null;index;uniqueIndex:ux_conv_identity,priority:1" json:"tenant_id"`
	BotID          string             `gorm:"size:36;not null;uniqueIndex:ux_conv_identity,priority:2" json:"bot_id"`
	Channel        Channel            `gorm:"size:16;not null;uniqueIndex:ux_conv_identity,priority:3" json:"channel"`
	ExternalUserID string             `gorm:"size:128;not null;uniqueIndex:ux_conv_identity,priority:4" json:"external_user_id"`
	Status         ConversationStatus `gorm:"size:24;not null;default:'waiting'" json:"status"`
	IsAIPaused     bool               `gorm:"column:is_ai_paused;not null;default:false" json:"is_ai_paused"`
	LastActor      string             `gorm:"size:64;not null;default:'system'" json:"last_actor"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Conversation) TableName() string { return "conversations" }
