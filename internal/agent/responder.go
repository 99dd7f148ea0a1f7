// Package agent implements the AI auto-responder. It replies to inbound
// contact messages while the conversation remains in pure-bot handling:
// not silenced, not assigned to an operator, and not already answered by
// a send_message rule for the same event.
package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/atendai/inbox-core/internal/llm"
	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/pkg/logger"
	"github.com/atendai/inbox-core/pkg/metrics"
)

const defaultSystemPrompt = "You are a customer support agent. Reply briefly and helpfully, in the language the customer writes in."

// Silencer reports whether the bot is silenced for a conversation.
type Silencer interface {
	Silenced(contactID string) bool
}

// Reader reads conversation snapshots from the state store.
type Reader interface {
	Snapshot(contactID string) *model.Conversation
}

// ReplySender delivers the generated reply through the outbound path.
type ReplySender interface {
	SendAgentReply(ctx context.Context, contactID, text string) error
}

// Responder generates agent replies from conversation history.
type Responder struct {
	llm      llm.Client
	store    Reader
	silencer Silencer
	sender   ReplySender
	model    string
	logger   *logger.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewResponder creates the auto-responder. A nil llm client disables it.
func NewResponder(client llm.Client, st Reader, sil Silencer, sender ReplySender, modelName string, log *logger.Logger) *Responder {
	return &Responder{
		llm:      client,
		store:    st,
		silencer: sil,
		sender:   sender,
		model:    modelName,
		logger:   log,
		inFlight: make(map[string]bool),
	}
}

// HandleMessage reacts to one new_message event. firedAction is the rule
// action that already ran for this event; any firing suppresses the
// auto-reply. The LLM call runs on its own goroutine so event dispatch
// is never blocked on the network.
func (r *Responder) HandleMessage(ctx context.Context, ev model.NewMessageEvent, firedAction model.ActionType) {
	if r.llm == nil || !ev.Message.Inbound() || firedAction != "" {
		return
	}
	if r.silencer.Silenced(ev.ContactID) {
		return
	}

	conv := r.store.Snapshot(ev.ContactID)
	if conv == nil || conv.AgentID == "" {
		return
	}
	if conv.AssigneeID != "" || conv.Status != model.ConversationPending {
		return
	}

	r.mu.Lock()
	if r.inFlight[ev.ContactID] {
		r.mu.Unlock()
		return
	}
	r.inFlight[ev.ContactID] = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inFlight, ev.ContactID)
			r.mu.Unlock()
		}()
		r.reply(ctx, conv)
	}()
}

func (r *Responder) reply(ctx context.Context, conv *model.Conversation) {
	resp, err := r.llm.Complete(ctx, &llm.CompletionRequest{
		Model:    r.model,
		System:   defaultSystemPrompt,
		Messages: historyToChat(conv.Messages),
	})
	if err != nil {
		metrics.AgentReplies.WithLabelValues(r.model, "error").Inc()
		r.logger.Warn("agent completion failed",
			zap.String("contact_id", conv.ContactID), zap.Error(err))
		return
	}
	if resp.Content == "" {
		metrics.AgentReplies.WithLabelValues(resp.Model, "empty").Inc()
		return
	}

	if err := r.sender.SendAgentReply(ctx, conv.ContactID, resp.Content); err != nil {
		metrics.AgentReplies.WithLabelValues(resp.Model, "send_error").Inc()
		r.logger.Warn("agent reply delivery failed",
			zap.String("contact_id", conv.ContactID), zap.Error(err))
		return
	}
	metrics.AgentReplies.WithLabelValues(resp.Model, "ok").Inc()
}

// historyToChat maps conversation history to chat roles: the contact is
// the user, everything outbound is the assistant.
func historyToChat(msgs []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Text == "" || m.Direction == model.DirectionOutboundNote {
			continue
		}
		role := "assistant"
		if m.Inbound() {
			role = "user"
		}
		out = append(out, llm.ChatMessage{Role: role, Content: m.Text})
	}
	return out
}
