package model

import (
	"time"
)

// ConversationStatus is the handling state of a conversation.
type ConversationStatus string

const (
	ConversationPending  ConversationStatus = "pending"
	ConversationOpen     ConversationStatus = "open"
	ConversationResolved ConversationStatus = "resolved"
)

// Contact is the snapshot of a contact delivered alongside the first
// message of a new conversation.
type Contact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Number    string `json:"number,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Conversation is the ordered message history plus handling metadata for
// one contact. Conversations are keyed by contact id and never deleted;
// they only transition to resolved.
type Conversation struct {
	ContactID  string             `json:"contact_id"`
	Contact    Contact            `json:"contact"`
	Messages   []Message          `json:"messages"`
	Status     ConversationStatus `json:"status"`
	AssigneeID string             `json:"assignee_id,omitempty"`
	AgentID    string             `json:"agent_id,omitempty"`
	ChannelID  string             `json:"channel_id,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
	Unread     int                `json:"unread"`

	// Backward-pagination cursor.
	OldestLoadedAt time.Time `json:"oldest_loaded_at,omitempty"`
	HasMoreBefore  bool      `json:"has_more_before"`

	UpdatedAt time.Time `json:"updated_at"`
}

// HasMessage reports whether a message with the given id is already
// present in the history.
func (c *Conversation) HasMessage(id string) bool {
	for i := range c.Messages {
		if c.Messages[i].ID == id || (id != "" && c.Messages[i].ExternalID == id) {
			return true
		}
	}
	return false
}

// HasTag reports whether the conversation already carries a tag.
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ConversationPatch is a shallow merge applied by conversation_updated
// events and by rule actions. Nil fields are left untouched.
type ConversationPatch struct {
	Status       *ConversationStatus `json:"status,omitempty"`
	AssigneeID   *string             `json:"assignee_id,omitempty"`
	AssigneeName *string             `json:"assignee_name,omitempty"`
	AgentID      *string             `json:"agent_id,omitempty"`
	AddTags      []string            `json:"add_tags,omitempty"`
}
