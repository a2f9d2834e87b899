package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxChatMessageLength bounds a single persisted chat message.
	MaxChatMessageLength = 4096

	maxCallIDLength = 128
	maxUserIDLength = 128
)

// CallIDRegex matches the call ids the signaling layer issues (UUIDs) and the
// opaque ids external portals may bring along.
var CallIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// UserIDRegex matches identities as the auth layer issues them.
var UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateCallID checks a signaling call id.
func ValidateCallID(id string) error {
	if id == "" {
		return fmt.Errorf("call id is required")
	}
	if len(id) > maxCallIDLength {
		return fmt.Errorf("call id is too long (max %d characters)", maxCallIDLength)
	}
	if !CallIDRegex.MatchString(id) {
		return fmt.Errorf("call id contains invalid characters")
	}
	return nil
}

// ValidateUserID checks an identity string.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > maxUserIDLength {
		return fmt.Errorf("user id is too long (max %d characters)", maxUserIDLength)
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("user id contains invalid characters")
	}
	return nil
}

// ValidateChatMessage checks a chat message body.
func ValidateChatMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required")
	}
	if len(text) > MaxChatMessageLength {
		return fmt.Errorf("message is too long (max %d bytes)", MaxChatMessageLength)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	return nil
}
