// Package model defines data structures for the conversation sync engine.
package model

import (
	"time"
)

// Direction classifies who authored a message and how it left the system.
type Direction string

const (
	DirectionInbound      Direction = "inbound"
	DirectionOutboundNote Direction = "outbound-note"
	DirectionOutboundRepl Direction = "outbound-reply"
)

// MessageStatus tracks the delivery lifecycle of an outbound message.
// Inbound messages are always Sent.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

// Author identifies who produced an outbound message.
type Author string

const (
	AuthorContact  Author = "contact"
	AuthorOperator Author = "operator"
	AuthorAgent    Author = "agent"
)

// Media describes an optional attachment on a message. URL may be empty
// while the upload is still pending.
type Media struct {
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Message is one entry in a conversation's ordered history. While an
// outbound message is unconfirmed it carries a locally generated temp id;
// ExternalID is filled in once the provider acknowledges it.
type Message struct {
	ID         string        `json:"id"`
	ExternalID string        `json:"external_id,omitempty"`
	ContactID  string        `json:"contact_id"`
	ChannelID  string        `json:"channel_id,omitempty"`
	Direction  Direction     `json:"direction"`
	Author     Author        `json:"author"`
	Text       string        `json:"text"`
	Media      *Media        `json:"media,omitempty"`
	Status     MessageStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Inbound reports whether the message came from the contact.
func (m *Message) Inbound() bool {
	return m.Direction == DirectionInbound
}

// Draft is the input to an optimistic send.
type Draft struct {
	Direction Direction `json:"direction"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	Media     *Media    `json:"media,omitempty"`
}

// MessagePage is one page of history returned by the persistence API.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
