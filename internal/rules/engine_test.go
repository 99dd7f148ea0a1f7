package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/pkg/logger"
)

// mockStore serves conversation snapshots and records applied patches.
type mockStore struct {
	convs   map[string]*model.Conversation
	patches []model.ConversationPatch
}

func newMockStore() *mockStore {
	return &mockStore{convs: make(map[string]*model.Conversation)}
}

func (m *mockStore) addConversation(contactID, agentID string) {
	m.convs[contactID] = &model.Conversation{
		ContactID: contactID,
		AgentID:   agentID,
		Status:    model.ConversationPending,
	}
}

func (m *mockStore) Snapshot(contactID string) *model.Conversation {
	if c, ok := m.convs[contactID]; ok {
		cp := *c
		return &cp
	}
	return nil
}

func (m *mockStore) ApplyConversationUpdate(contactID string, patch model.ConversationPatch) {
	m.patches = append(m.patches, patch)
}

// mockActions implements every collaborator interface and records calls.
type mockActions struct {
	assigned    []string // operator ids
	opened      int
	switched    []string // agent ids
	tags        []string
	sent        []string // texts
	failAssign  error
	failSend    error
	errReported int
}

func (m *mockActions) AssignContact(ctx context.Context, contactID, operatorID string) error {
	if m.failAssign != nil {
		return m.failAssign
	}
	m.assigned = append(m.assigned, operatorID)
	return nil
}

func (m *mockActions) OpenContact(ctx context.Context, contactID string) error {
	m.opened++
	return nil
}

func (m *mockActions) SwitchAgent(ctx context.Context, contactID, agentID string) error {
	m.switched = append(m.switched, agentID)
	return nil
}

func (m *mockActions) AttachTag(ctx context.Context, contactID, tag string) error {
	m.tags = append(m.tags, tag)
	return nil
}

func (m *mockActions) SendAgentReply(ctx context.Context, contactID, text string) error {
	if m.failSend != nil {
		return m.failSend
	}
	m.sent = append(m.sent, text)
	return nil
}

// emptySource is used when tests install rules via SetRules directly.
type emptySource struct{}

func (emptySource) ListRules(ctx context.Context, agentID string) ([]model.AutomationRule, error) {
	return nil, nil
}

func newTestEngine(st *mockStore, acts *mockActions, countOperator bool) *Engine {
	return New(Config{
		Store:                 st,
		Source:                emptySource{},
		Assigner:              acts,
		Switcher:              acts,
		Tagger:                acts,
		Sender:                acts,
		CountOperatorMessages: countOperator,
		Logger:                logger.NewNop(),
		OnError: func(contactID string, rule model.AutomationRule, err error) {
			acts.errReported++
		},
	})
}

func inboundEvent(contactID, text string) model.NewMessageEvent {
	return model.NewMessageEvent{
		ContactID: contactID,
		Message: model.Message{
			ID:        "m-" + text,
			ContactID: contactID,
			Direction: model.DirectionInbound,
			Author:    model.AuthorContact,
			Text:      text,
			CreatedAt: time.Now(),
		},
	}
}

func authoredEvent(contactID string, author model.Author, at time.Time) model.NewMessageEvent {
	return model.NewMessageEvent{
		ContactID: contactID,
		Message: model.Message{
			ID:        "m-" + string(author) + at.Format("150405.000"),
			ContactID: contactID,
			Direction: model.DirectionOutboundRepl,
			Author:    author,
			Text:      "reply",
			CreatedAt: at,
		},
	}
}

func TestEngine_KeywordTransfersToHuman(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("kw", 10, time.Now(), model.ConditionKeywordMatch,
			`{"keywords":["humano"]}`, model.ActionTransferHuman, `{"operator_id":"op-1"}`),
	})

	fired := e.HandleMessage(context.Background(), inboundEvent("c1", "quero falar com um HUMANO agora"))

	assert.Equal(t, model.ActionTransferHuman, fired)
	assert.Equal(t, []string{"op-1"}, acts.assigned)
	assert.Equal(t, 1, acts.opened)
	require.Len(t, st.patches, 1)
	require.NotNil(t, st.patches[0].Status)
	assert.Equal(t, model.ConversationOpen, *st.patches[0].Status)
	require.NotNil(t, st.patches[0].AssigneeID)
	assert.Equal(t, "op-1", *st.patches[0].AssigneeID)
}

func TestEngine_FirstMatchWins(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	// Both rules match the first inbound message; only the higher priority
	// one may execute.
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("tag", 1, time.Now(), model.ConditionAlways, "", model.ActionAddTag, `{"tag":"new"}`),
		rawRule("greet", 9, time.Now(), model.ConditionAlways, "", model.ActionSendMessage, `{"text":"welcome"}`),
	})

	fired := e.HandleMessage(context.Background(), inboundEvent("c1", "hi"))

	assert.Equal(t, model.ActionSendMessage, fired)
	assert.Equal(t, []string{"welcome"}, acts.sent)
	assert.Empty(t, acts.tags, "lower priority rule must not also fire")
}

func TestEngine_MessageCountFiresOnce(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("count", 5, time.Now(), model.ConditionMessageCount,
			`{"threshold":3}`, model.ActionAddTag, `{"tag":"chatty"}`),
	})

	var fired []model.ActionType
	for i := 0; i < 5; i++ {
		fired = append(fired, e.HandleMessage(context.Background(), inboundEvent("c1", "msg")))
	}

	assert.Equal(t, []model.ActionType{"", "", model.ActionAddTag, "", ""}, fired)
	assert.Equal(t, []string{"chatty"}, acts.tags)
}

func TestEngine_AlwaysFiresOnlyOnFirstInbound(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("greet", 1, time.Now(), model.ConditionAlways, "", model.ActionSendMessage, `{"text":"hello"}`),
	})

	assert.Equal(t, model.ActionSendMessage, e.HandleMessage(context.Background(), inboundEvent("c1", "first")))
	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "second")))
	assert.Equal(t, []string{"hello"}, acts.sent)
}

func TestEngine_StopRespondingSilencesUntilReset(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("mute", 9, time.Now(), model.ConditionKeywordMatch,
			`{"keywords":["stop"]}`, model.ActionStopResponding, ""),
		rawRule("tag", 1, time.Now(), model.ConditionKeywordMatch,
			`{"keywords":["help"]}`, model.ActionAddTag, `{"tag":"help"}`),
	})

	assert.Equal(t, model.ActionStopResponding, e.HandleMessage(context.Background(), inboundEvent("c1", "stop")))
	assert.True(t, e.Silenced("c1"))

	// Silenced conversations skip evaluation entirely.
	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "help")))
	assert.Empty(t, acts.tags)

	e.ResetSilence("c1")
	assert.False(t, e.Silenced("c1"))
	assert.Equal(t, model.ActionAddTag, e.HandleMessage(context.Background(), inboundEvent("c1", "help")))
}

func TestEngine_ActionFailureKeepsBookkeeping(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{failSend: errors.New("channel down")}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("count", 5, time.Now(), model.ConditionMessageCount,
			`{"threshold":2}`, model.ActionSendMessage, `{"text":"wait"}`),
	})

	e.HandleMessage(context.Background(), inboundEvent("c1", "one"))
	fired := e.HandleMessage(context.Background(), inboundEvent("c1", "two"))
	assert.Equal(t, model.ActionSendMessage, fired, "the rule fired even though delivery failed")
	assert.Equal(t, 1, acts.errReported)

	// Delivery failure must not cause a refire on the next message.
	acts.failSend = nil
	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "three")))
	assert.Empty(t, acts.sent)
}

func TestEngine_NoAIResponse(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("idle", 5, time.Now(), model.ConditionNoAIResponse,
			`{"minutes":10}`, model.ActionTransferHuman, ""),
	})

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	// Agent replied at noon.
	e.HandleMessage(context.Background(), authoredEvent("c1", model.AuthorAgent, base))

	// Five minutes later: still within the window.
	e.now = func() time.Time { return base.Add(5 * time.Minute) }
	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "anyone?")))

	// Eleven minutes of agent silence trips the rule.
	e.now = func() time.Time { return base.Add(11 * time.Minute) }
	assert.Equal(t, model.ActionTransferHuman, e.HandleMessage(context.Background(), inboundEvent("c1", "hello??")))
}

func TestEngine_NoAIResponse_HumanReplySuppresses(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("idle", 5, time.Now(), model.ConditionNoAIResponse,
			`{"minutes":10}`, model.ActionTransferHuman, ""),
	})

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	e.HandleMessage(context.Background(), authoredEvent("c1", model.AuthorAgent, base))
	// An operator stepped in, so the conversation is no longer unattended.
	e.HandleMessage(context.Background(), authoredEvent("c1", model.AuthorOperator, base.Add(time.Minute)))

	e.now = func() time.Time { return base.Add(time.Hour) }
	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "hello??")))
}

func TestEngine_HoursOutside(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("after-hours", 5, time.Now(), model.ConditionHoursOutside,
			`{"start":"09:00","end":"18:00"}`, model.ActionSendMessage, `{"text":"we are closed"}`),
	})

	inside := time.Date(2026, 8, 28, 14, 0, 0, 0, time.Local)
	e.now = func() time.Time { return inside }
	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "hi")))

	outside := time.Date(2026, 8, 28, 22, 30, 0, 0, time.Local)
	e.now = func() time.Time { return outside }
	assert.Equal(t, model.ActionSendMessage, e.HandleMessage(context.Background(), inboundEvent("c1", "anyone there")))
	assert.Equal(t, []string{"we are closed"}, acts.sent)
}

func TestEngine_OperatorMessagesDoNotCountByDefault(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("count", 5, time.Now(), model.ConditionMessageCount,
			`{"threshold":2}`, model.ActionAddTag, `{"tag":"busy"}`),
	})

	e.HandleMessage(context.Background(), inboundEvent("c1", "one"))
	e.HandleMessage(context.Background(), authoredEvent("c1", model.AuthorOperator, time.Now()))
	// Second inbound message reaches the threshold; the operator reply in
	// between did not advance the counter.
	assert.Equal(t, model.ActionAddTag, e.HandleMessage(context.Background(), inboundEvent("c1", "two")))
}

func TestEngine_OperatorMessagesCountWhenEnabled(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, true)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("count", 5, time.Now(), model.ConditionMessageCount,
			`{"threshold":2}`, model.ActionAddTag, `{"tag":"busy"}`),
	})

	e.HandleMessage(context.Background(), inboundEvent("c1", "one"))
	e.HandleMessage(context.Background(), authoredEvent("c1", model.AuthorOperator, time.Now()))
	// The operator reply was the second countable message; the next inbound
	// message finds the threshold already recorded and fires.
	assert.Equal(t, model.ActionAddTag, e.HandleMessage(context.Background(), inboundEvent("c1", "two")))
	assert.Equal(t, []string{"busy"}, acts.tags)
}

func TestEngine_RuleOverridesOperatorCountOn(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	// Engine default excludes operator replies; the rule opts in.
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("count", 5, time.Now(), model.ConditionMessageCount,
			`{"threshold":3,"count_operator_messages":true}`, model.ActionAddTag, `{"tag":"busy"}`),
	})

	e.HandleMessage(context.Background(), inboundEvent("c1", "one"))
	e.HandleMessage(context.Background(), authoredEvent("c1", model.AuthorOperator, time.Now()))
	// Under the rule's own setting the operator reply counted, so this is
	// the third countable message and the rule fires.
	assert.Equal(t, model.ActionAddTag, e.HandleMessage(context.Background(), inboundEvent("c1", "two")))
	assert.Equal(t, []string{"busy"}, acts.tags)
}

func TestEngine_RuleOverridesOperatorCountOff(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	// Engine default counts operator replies; the rule opts out.
	e := newTestEngine(st, acts, true)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("count", 5, time.Now(), model.ConditionMessageCount,
			`{"threshold":3,"count_operator_messages":false}`, model.ActionAddTag, `{"tag":"busy"}`),
	})

	e.HandleMessage(context.Background(), inboundEvent("c1", "one"))
	e.HandleMessage(context.Background(), authoredEvent("c1", model.AuthorOperator, time.Now()))
	// Contact-only count is 2 here; under the engine default it would be 3
	// and the rule would have fired.
	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "two")))
	assert.Equal(t, model.ActionAddTag, e.HandleMessage(context.Background(), inboundEvent("c1", "three")))
	assert.Equal(t, []string{"busy"}, acts.tags)
}

func TestEngine_InvalidRuleSkipped(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("broken", 9, time.Now(), model.ConditionKeywordMatch,
			`{"keywords":[]}`, model.ActionSendMessage, `{"text":"never"}`),
		rawRule("greet", 1, time.Now(), model.ConditionAlways, "", model.ActionSendMessage, `{"text":"hello"}`),
	})

	fired := e.HandleMessage(context.Background(), inboundEvent("c1", "hi"))
	assert.Equal(t, model.ActionSendMessage, fired)
	assert.Equal(t, []string{"hello"}, acts.sent, "evaluation falls through the neutralized rule")
}

func TestEngine_InactiveRuleSkipped(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)

	inactive := rawRule("off", 9, time.Now(), model.ConditionAlways, "", model.ActionSendMessage, `{"text":"never"}`)
	inactive.Active = false
	e.SetRules("agent-1", []model.AutomationRule{inactive})

	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "hi")))
	assert.Empty(t, acts.sent)
}

func TestEngine_NoAgentNoEvaluation(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "") // conversation without a configured agent
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)

	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c1", "hi")))
	assert.Equal(t, model.ActionType(""), e.HandleMessage(context.Background(), inboundEvent("c-unknown", "hi")))
}

func TestEngine_AssignAgentSwitchesRuleSet(t *testing.T) {
	st := newMockStore()
	st.addConversation("c1", "agent-1")
	acts := &mockActions{}
	e := newTestEngine(st, acts, false)
	e.SetRules("agent-1", []model.AutomationRule{
		rawRule("handoff", 5, time.Now(), model.ConditionKeywordMatch,
			`{"keywords":["billing"]}`, model.ActionAssignAgent, `{"agent_id":"agent-billing"}`),
	})

	fired := e.HandleMessage(context.Background(), inboundEvent("c1", "a billing question"))

	assert.Equal(t, model.ActionAssignAgent, fired)
	assert.Equal(t, []string{"agent-billing"}, acts.switched)
	require.Len(t, st.patches, 1)
	require.NotNil(t, st.patches[0].AgentID)
	assert.Equal(t, "agent-billing", *st.patches[0].AgentID)
}
