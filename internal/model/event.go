package model

import (
	"encoding/json"
	"time"
)

// EventType discriminates push-event envelopes on the org stream.
type EventType string

const (
	EventNewMessage          EventType = "new_message"
	EventConversationUpdated EventType = "conversation_updated"
	EventPresenceViewing     EventType = "presence_viewing"
	EventPresenceTyping      EventType = "presence_typing"
	EventPresenceLeft        EventType = "presence_left"
)

// Envelope is the wire shape of every frame on the org event stream.
// Payload is decoded according to Type.
type Envelope struct {
	Type      EventType       `json:"type"`
	OrgID     string          `json:"org_id"`
	EventID   string          `json:"event_id,omitempty"`
	EventTime time.Time       `json:"event_time"`
	Payload   json.RawMessage `json:"payload"`
}

// NewMessageEvent carries an inbound or outbound message observed by the
// backend, plus a contact snapshot when the conversation is new.
type NewMessageEvent struct {
	ContactID string   `json:"contact_id"`
	Message   Message  `json:"message"`
	Contact   *Contact `json:"contact,omitempty"`
}

// ConversationUpdatedEvent carries a metadata patch for a conversation.
type ConversationUpdatedEvent struct {
	ContactID string            `json:"contact_id"`
	Patch     ConversationPatch `json:"patch"`
}

// PresenceEvent carries another operator's viewing/typing state.
type PresenceEvent struct {
	OperatorID   string `json:"operator_id"`
	OperatorName string `json:"operator_name,omitempty"`
	ContactID    string `json:"contact_id"`
	Text         string `json:"text,omitempty"`
}
