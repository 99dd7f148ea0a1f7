// Package rules evaluates prioritized condition→action automation rules
// against conversation context and executes at most one winning action
// per agent per event.
package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/atendai/inbox-core/internal/model"
)

// CompiledRule is a rule whose payloads passed structural validation.
// Invalid rules still compile, but their condition never matches; a
// broken rule must not block lower-priority rules or crash evaluation.
type CompiledRule struct {
	Rule model.AutomationRule

	Keyword      *model.KeywordCondition
	MessageCount *model.MessageCountCondition
	NoAIResponse *model.NoAIResponseCondition
	HoursOutside *model.HoursOutsideCondition

	Transfer    *model.TransferHumanAction
	AssignAgent *model.AssignAgentAction
	SendMessage *model.SendMessageAction
	AddTag      *model.AddTagAction

	// Err records why the rule was neutralized, for logging.
	Err error
}

// Valid reports whether the rule participates in evaluation.
func (c *CompiledRule) Valid() bool {
	return c.Err == nil
}

// Compile validates rule payloads and returns rules ordered by priority
// descending, creation order breaking ties.
func Compile(raw []model.AutomationRule) []CompiledRule {
	out := make([]CompiledRule, 0, len(raw))
	for _, r := range raw {
		out = append(out, compileOne(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rule.Priority != out[j].Rule.Priority {
			return out[i].Rule.Priority > out[j].Rule.Priority
		}
		return out[i].Rule.CreatedAt.Before(out[j].Rule.CreatedAt)
	})
	return out
}

func compileOne(r model.AutomationRule) CompiledRule {
	c := CompiledRule{Rule: r}

	if err := c.compileCondition(); err != nil {
		c.Err = fmt.Errorf("condition %s: %w", r.Condition, err)
		return c
	}
	if err := c.compileAction(); err != nil {
		c.Err = fmt.Errorf("action %s: %w", r.Action, err)
	}
	return c
}

func (c *CompiledRule) compileCondition() error {
	switch c.Rule.Condition {
	case model.ConditionKeywordMatch:
		var p model.KeywordCondition
		if err := decodeStrict(c.Rule.CondData, &p); err != nil {
			return err
		}
		if len(p.Keywords) == 0 {
			return fmt.Errorf("requires at least one keyword")
		}
		for i := range p.Keywords {
			p.Keywords[i] = strings.ToLower(p.Keywords[i])
		}
		c.Keyword = &p

	case model.ConditionMessageCount:
		var p model.MessageCountCondition
		if err := decodeStrict(c.Rule.CondData, &p); err != nil {
			return err
		}
		if p.Threshold <= 0 {
			return fmt.Errorf("threshold must be positive")
		}
		c.MessageCount = &p

	case model.ConditionNoAIResponse:
		var p model.NoAIResponseCondition
		if err := decodeStrict(c.Rule.CondData, &p); err != nil {
			return err
		}
		if p.Minutes <= 0 {
			return fmt.Errorf("minutes must be positive")
		}
		c.NoAIResponse = &p

	case model.ConditionHoursOutside:
		var p model.HoursOutsideCondition
		if err := decodeStrict(c.Rule.CondData, &p); err != nil {
			return err
		}
		start, err := parseClock(p.Start)
		if err != nil {
			return fmt.Errorf("invalid start: %w", err)
		}
		end, err := parseClock(p.End)
		if err != nil {
			return fmt.Errorf("invalid end: %w", err)
		}
		if start >= end {
			return fmt.Errorf("window must satisfy start < end")
		}
		c.HoursOutside = &p

	case model.ConditionAlways:
		// no payload

	default:
		return fmt.Errorf("unknown condition type")
	}
	return nil
}

func (c *CompiledRule) compileAction() error {
	switch c.Rule.Action {
	case model.ActionTransferHuman:
		var p model.TransferHumanAction
		if len(c.Rule.ActData) > 0 {
			if err := decodeStrict(c.Rule.ActData, &p); err != nil {
				return err
			}
		}
		c.Transfer = &p

	case model.ActionAssignAgent:
		var p model.AssignAgentAction
		if err := decodeStrict(c.Rule.ActData, &p); err != nil {
			return err
		}
		if p.AgentID == "" {
			return fmt.Errorf("agent_id is required")
		}
		c.AssignAgent = &p

	case model.ActionStopResponding:
		// no payload

	case model.ActionSendMessage:
		var p model.SendMessageAction
		if err := decodeStrict(c.Rule.ActData, &p); err != nil {
			return err
		}
		if p.Text == "" {
			return fmt.Errorf("text is required")
		}
		c.SendMessage = &p

	case model.ActionAddTag:
		var p model.AddTagAction
		if err := decodeStrict(c.Rule.ActData, &p); err != nil {
			return err
		}
		if p.Tag == "" {
			return fmt.Errorf("tag is required")
		}
		c.AddTag = &p

	default:
		return fmt.Errorf("unknown action type")
	}
	return nil
}

func decodeStrict(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return fmt.Errorf("payload is required")
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}
