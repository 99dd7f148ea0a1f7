package rules

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/pkg/logger"
	"github.com/atendai/inbox-core/pkg/metrics"
)

// Assigner moves conversations between operators.
type Assigner interface {
	AssignContact(ctx context.Context, contactID, operatorID string) error
	OpenContact(ctx context.Context, contactID string) error
}

// AgentSwitcher rebinds a conversation to another configured agent.
type AgentSwitcher interface {
	SwitchAgent(ctx context.Context, contactID, agentID string) error
}

// Tagger attaches tags; attaching an existing tag must be a no-op.
type Tagger interface {
	AttachTag(ctx context.Context, contactID, tag string) error
}

// Sender delivers an agent-authored reply through the outbound path.
type Sender interface {
	SendAgentReply(ctx context.Context, contactID, text string) error
}

// ConversationStore is the slice of the state store the engine reads and
// requests mutations through. The engine never reaches into message
// lists directly.
type ConversationStore interface {
	Snapshot(contactID string) *model.Conversation
	ApplyConversationUpdate(contactID string, patch model.ConversationPatch)
}

// RuleSource provides the active rules for an agent.
type RuleSource interface {
	ListRules(ctx context.Context, agentID string) ([]model.AutomationRule, error)
}

// ErrorFunc receives collaborator failures. Firing bookkeeping is kept
// even when delivery failed, so retry storms cannot repeat side effects.
type ErrorFunc func(contactID string, rule model.AutomationRule, err error)

// convState is the engine's per-(agent, contact) bookkeeping. Both
// counters advance unconditionally; which one a message_count rule reads
// is decided at match time from the rule's effective setting.
type convState struct {
	inbound          int // contact messages since the agent engaged
	operator         int // manual operator replies since the agent engaged
	lastAgentReplyAt time.Time
	humanReplied     bool // human replied since the last agent message
	lastFired        map[string]int // rule id → counter value at last firing
}

// Engine evaluates automation rules on inbound message events.
type Engine struct {
	store  ConversationStore
	source RuleSource

	assigner Assigner
	switcher AgentSwitcher
	tagger   Tagger
	sender   Sender

	onError ErrorFunc
	logger  *logger.Logger

	// countOperatorMessages decides whether manual operator replies
	// advance message_count thresholds.
	countOperatorMessages bool

	now func() time.Time

	mu       sync.Mutex
	compiled map[string][]CompiledRule // agent id → ordered rules
	states   map[string]*convState     // agentID+"/"+contactID
	silenced map[string]bool           // contact id
}

// Config wires the engine's collaborators.
type Config struct {
	Store                 ConversationStore
	Source                RuleSource
	Assigner              Assigner
	Switcher              AgentSwitcher
	Tagger                Tagger
	Sender                Sender
	OnError               ErrorFunc
	CountOperatorMessages bool
	Logger                *logger.Logger
}

// New creates a rule engine.
func New(cfg Config) *Engine {
	e := &Engine{
		store:                 cfg.Store,
		source:                cfg.Source,
		assigner:              cfg.Assigner,
		switcher:              cfg.Switcher,
		tagger:                cfg.Tagger,
		sender:                cfg.Sender,
		onError:               cfg.OnError,
		logger:                cfg.Logger,
		countOperatorMessages: cfg.CountOperatorMessages,
		now:                   time.Now,
		compiled:              make(map[string][]CompiledRule),
		states:                make(map[string]*convState),
		silenced:              make(map[string]bool),
	}
	if e.onError == nil {
		e.onError = func(string, model.AutomationRule, error) {}
	}
	return e
}

// SetRules installs a pre-compiled rule set for an agent, replacing any
// cached one. Used at startup and when the management API reports edits.
func (e *Engine) SetRules(agentID string, raw []model.AutomationRule) {
	compiled := Compile(raw)
	for i := range compiled {
		if !compiled[i].Valid() {
			e.logger.Warn("rule neutralized by validation",
				zap.String("rule_id", compiled[i].Rule.ID),
				zap.Error(compiled[i].Err))
		}
	}
	e.mu.Lock()
	e.compiled[agentID] = compiled
	e.mu.Unlock()
}

// Silenced reports whether the bot is silenced for a conversation.
func (e *Engine) Silenced(contactID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.silenced[contactID]
}

// ResetSilence re-enables evaluation for a conversation after a manual
// reset from the console.
func (e *Engine) ResetSilence(contactID string) {
	e.mu.Lock()
	delete(e.silenced, contactID)
	e.mu.Unlock()
}

// HandleMessage ingests one new_message event and returns the action
// type that fired, if any. Every message updates the bookkeeping; only
// inbound contact messages trigger evaluation, so an engine-sent reply
// can never re-trigger keyword or count conditions.
func (e *Engine) HandleMessage(ctx context.Context, ev model.NewMessageEvent) model.ActionType {
	conv := e.store.Snapshot(ev.ContactID)
	if conv == nil || conv.AgentID == "" {
		return ""
	}

	st := e.stateFor(conv.AgentID, ev.ContactID)
	msg := ev.Message

	e.mu.Lock()
	switch msg.Author {
	case model.AuthorAgent:
		st.lastAgentReplyAt = msg.CreatedAt
		st.humanReplied = false
	case model.AuthorOperator:
		st.humanReplied = true
		st.operator++
	default: // contact
		st.inbound++
	}
	silenced := e.silenced[ev.ContactID]
	e.mu.Unlock()

	if !msg.Inbound() {
		return ""
	}
	if silenced {
		return ""
	}

	return e.evaluate(ctx, conv, st, msg)
}

// evaluate walks the agent's rules in priority order and executes the
// first matching action. A condition evaluator that panics is treated as
// non-matching and evaluation continues with the next rule.
func (e *Engine) evaluate(ctx context.Context, conv *model.Conversation, st *convState, msg model.Message) model.ActionType {
	rules := e.rulesFor(ctx, conv.AgentID)

	for i := range rules {
		r := &rules[i]
		if !r.Valid() || !r.Rule.Active {
			continue
		}

		matched := e.safeMatch(r, st, msg)
		metrics.RuleEvaluations.WithLabelValues(string(r.Rule.Condition), boolLabel(matched)).Inc()
		if !matched {
			continue
		}

		e.recordFiring(r, st)
		e.execute(ctx, conv, r)
		// First match wins; rules are mutually exclusive per event.
		return r.Rule.Action
	}
	return ""
}

func (e *Engine) safeMatch(r *CompiledRule, st *convState, msg model.Message) (matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			matched = false
			e.logger.Error("condition evaluator panicked",
				zap.String("rule_id", r.Rule.ID), zap.Any("panic", rec))
		}
	}()
	return e.match(r, st, msg)
}

func (e *Engine) match(r *CompiledRule, st *convState, msg model.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch r.Rule.Condition {
	case model.ConditionKeywordMatch:
		text := strings.ToLower(msg.Text)
		for _, kw := range r.Keyword.Keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false

	case model.ConditionMessageCount:
		if e.countForLocked(r, st) < r.MessageCount.Threshold {
			return false
		}
		// Fire-once: refire only if the threshold was raised past the
		// count recorded at the last firing.
		return st.lastFired[r.Rule.ID] < r.MessageCount.Threshold

	case model.ConditionNoAIResponse:
		if st.lastAgentReplyAt.IsZero() || st.humanReplied {
			return false
		}
		idle := e.now().Sub(st.lastAgentReplyAt)
		return idle > time.Duration(r.NoAIResponse.Minutes)*time.Minute

	case model.ConditionHoursOutside:
		start, _ := parseClock(r.HoursOutside.Start)
		end, _ := parseClock(r.HoursOutside.End)
		now := e.now().Local()
		minute := now.Hour()*60 + now.Minute()
		return minute < start || minute >= end

	case model.ConditionAlways:
		// True exactly once, on the first message of a new conversation
		// for this agent.
		return st.inbound == 1
	}
	return false
}

func (e *Engine) recordFiring(r *CompiledRule, st *convState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st.lastFired[r.Rule.ID] = e.countForLocked(r, st)
}

// countForLocked returns the counter a message_count rule evaluates
// against. The rule-level count_operator_messages field overrides the
// engine default in either direction. Must be called with e.mu held.
func (e *Engine) countForLocked(r *CompiledRule, st *convState) int {
	includeOperator := e.countOperatorMessages
	if r.MessageCount != nil && r.MessageCount.CountOperatorMessages != nil {
		includeOperator = *r.MessageCount.CountOperatorMessages
	}
	if includeOperator {
		return st.inbound + st.operator
	}
	return st.inbound
}

func (e *Engine) execute(ctx context.Context, conv *model.Conversation, r *CompiledRule) {
	var err error

	switch r.Rule.Action {
	case model.ActionTransferHuman:
		err = e.assigner.AssignContact(ctx, conv.ContactID, r.Transfer.OperatorID)
		if err == nil {
			err = e.assigner.OpenContact(ctx, conv.ContactID)
		}
		if err == nil {
			open := model.ConversationOpen
			patch := model.ConversationPatch{Status: &open}
			if r.Transfer.OperatorID != "" {
				patch.AssigneeID = &r.Transfer.OperatorID
			}
			e.store.ApplyConversationUpdate(conv.ContactID, patch)
		}

	case model.ActionAssignAgent:
		err = e.switcher.SwitchAgent(ctx, conv.ContactID, r.AssignAgent.AgentID)
		if err == nil {
			e.store.ApplyConversationUpdate(conv.ContactID, model.ConversationPatch{
				AgentID: &r.AssignAgent.AgentID,
			})
		}

	case model.ActionStopResponding:
		e.mu.Lock()
		e.silenced[conv.ContactID] = true
		e.mu.Unlock()

	case model.ActionSendMessage:
		err = e.sender.SendAgentReply(ctx, conv.ContactID, r.SendMessage.Text)

	case model.ActionAddTag:
		err = e.tagger.AttachTag(ctx, conv.ContactID, r.AddTag.Tag)
		if err == nil {
			e.store.ApplyConversationUpdate(conv.ContactID, model.ConversationPatch{
				AddTags: []string{r.AddTag.Tag},
			})
		}
	}

	if err != nil {
		metrics.RecordRuleFiring(string(r.Rule.Action), "error")
		e.logger.Warn("rule action failed",
			zap.String("rule_id", r.Rule.ID),
			zap.String("contact_id", conv.ContactID),
			zap.Error(err))
		e.onError(conv.ContactID, r.Rule, err)
		return
	}
	metrics.RecordRuleFiring(string(r.Rule.Action), "ok")
	e.logger.Info("rule fired",
		zap.String("rule_id", r.Rule.ID),
		zap.String("action", string(r.Rule.Action)),
		zap.String("contact_id", conv.ContactID))
}

func (e *Engine) rulesFor(ctx context.Context, agentID string) []CompiledRule {
	e.mu.Lock()
	compiled, ok := e.compiled[agentID]
	e.mu.Unlock()
	if ok {
		return compiled
	}

	raw, err := e.source.ListRules(ctx, agentID)
	if err != nil {
		e.logger.Warn("failed to fetch rules", zap.String("agent_id", agentID), zap.Error(err))
		return nil
	}
	e.SetRules(agentID, raw)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compiled[agentID]
}

func (e *Engine) stateFor(agentID, contactID string) *convState {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := agentID + "/" + contactID
	st, ok := e.states[key]
	if !ok {
		st = &convState{lastFired: make(map[string]int)}
		e.states[key] = st
	}
	return st
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
