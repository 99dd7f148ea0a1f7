package model

import (
	"time"
)

// PresenceState is what an operator is doing in a conversation.
type PresenceState string

const (
	PresenceViewing PresenceState = "viewing"
	PresenceTyping  PresenceState = "typing"
	PresenceLeft    PresenceState = "left"
)

// PresenceRecord is the ephemeral state of one operator in one
// conversation. Never persisted beyond the current session.
type PresenceRecord struct {
	OperatorID   string        `json:"operator_id"`
	OperatorName string        `json:"operator_name,omitempty"`
	ContactID    string        `json:"contact_id"`
	State        PresenceState `json:"state"`
	Since        time.Time     `json:"since"`
	ViewDuration time.Duration `json:"view_duration"`
}
