package model

import (
	"time"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser     Sender = "user"
	SenderBot      Sender = "bot"
	SenderOperator Sender = "operator"
	SenderSystem   Sender = "system"
)

// Message is one immutable entry in a conversation.
//
// IDs are UUIDv7 so lexical ordering agrees with creation ordering within a
// conversation. ProviderMessageID deduplicates redelivered webhook events;
// it is empty for messages not originating from the channel provider.
type Message struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID    string    `gorm:"size:36;not null;index:idx_msg_conv_created,priority:1" json:"conversation_id"`
	TenantID          string    `gorm:"size:64;not null;uniqueIndex:ux_msg_provider,priority:1" json:"tenant_id"`
	Channel           Channel   `gorm:"size:16;not null;uniqueIndex:ux_msg_provider,priority:2" json:"channel"`
	ProviderMessageID *string   `gorm:"size:128;uniqueIndex:ux_msg_provider,priority:3" json:"provider_message_id,omitempty"`
	Sender            Sender    `gorm:"size:16;not null" json:"sender"`
	Content           string    `gorm:"type:text;not null" json:"content"`
	Suppressed        bool      `gorm:"not null;default:false" json:"suppressed,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime:micro;index:idx_msg_conv_created,priority:2" json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (Message) TableName() string { return "messages" }
