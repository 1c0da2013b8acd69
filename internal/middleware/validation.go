package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 8192 {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateExternalUserID validates a channel-scoped external user ID.
func ValidateExternalUserID(id string) error {
	if len(id) == 0 {
		return errors.New("external user ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("external user ID exceeds maximum length")
	}
	return nil
}

// ValidateBotKey validates a widget bot key.
func ValidateBotKey(key string) error {
	if len(key) == 0 {
		return errors.New("bot key cannot be empty")
	}
	if len(key) > 64 {
		return errors.New("bot key exceeds maximum length")
	}
	return nil
}
