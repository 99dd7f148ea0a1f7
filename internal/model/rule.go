package model

import (
	"encoding/json"
	"time"
)

// ConditionType discriminates automation rule conditions.
type ConditionType string

const (
	ConditionKeywordMatch ConditionType = "keyword_match"
	ConditionMessageCount ConditionType = "message_count"
	ConditionNoAIResponse ConditionType = "no_ai_response"
	ConditionHoursOutside ConditionType = "hours_outside"
	ConditionAlways       ConditionType = "always"
)

// ActionType discriminates automation rule actions.
type ActionType string

const (
	ActionTransferHuman  ActionType = "transfer_human"
	ActionAssignAgent    ActionType = "assign_agent"
	ActionStopResponding ActionType = "stop_responding"
	ActionSendMessage    ActionType = "send_message"
	ActionAddTag         ActionType = "add_tag"
)

// AutomationRule is the stored form of one agent rule. Condition and
// Action payloads are raw JSON blobs discriminated by their type fields;
// rules.Compile validates them into typed payloads before evaluation.
type AutomationRule struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	Priority  int             `json:"priority"`
	Active    bool            `json:"active"`
	Condition ConditionType   `json:"condition_type"`
	CondData  json.RawMessage `json:"condition,omitempty"`
	Action    ActionType      `json:"action_type"`
	ActData   json.RawMessage `json:"action,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// KeywordCondition matches when any keyword occurs in the message text,
// case-insensitively.
type KeywordCondition struct {
	Keywords []string `json:"keywords"`
}

// MessageCountCondition fires once when the conversation's message count
// since the agent engaged reaches Threshold. CountOperatorMessages decides
// whether manual operator replies advance the counter.
type MessageCountCondition struct {
	Threshold             int   `json:"threshold"`
	CountOperatorMessages *bool `json:"count_operator_messages,omitempty"`
}

// NoAIResponseCondition matches when the agent has been silent for more
// than Minutes and no human replied meanwhile.
type NoAIResponseCondition struct {
	Minutes int `json:"minutes"`
}

// HoursOutsideCondition matches when local time falls outside [Start, End).
// Times are "HH:MM"; the window does not wrap midnight.
type HoursOutsideCondition struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// TransferHumanAction assigns the conversation to an operator, or leaves
// it unassigned for pool pickup when OperatorID is empty.
type TransferHumanAction struct {
	OperatorID string `json:"operator_id,omitempty"`
}

// AssignAgentAction switches the conversation to another agent's rule set.
type AssignAgentAction struct {
	AgentID string `json:"agent_id"`
}

// SendMessageAction sends a canned reply through the channel.
type SendMessageAction struct {
	Text string `json:"text"`
}

// AddTagAction attaches a tag; attaching an existing tag is a no-op.
type AddTagAction struct {
	Tag string `json:"tag"`
}
