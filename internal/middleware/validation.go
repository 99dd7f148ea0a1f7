package middleware

import (
	"errors"
	"unicode/utf8"
)

// ValidateMessageContent validates message text.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateContactID validates a contact id. Contact ids are opaque
// backend identifiers, not UUIDs.
func ValidateContactID(id string) error {
	if len(id) == 0 {
		return errors.New("contact ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("contact ID exceeds maximum length")
	}
	return nil
}
