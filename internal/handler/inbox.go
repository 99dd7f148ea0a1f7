package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atendai/inbox-core/internal/middleware"
	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/internal/presence"
	"github.com/atendai/inbox-core/internal/rules"
	"github.com/atendai/inbox-core/internal/service"
	"github.com/atendai/inbox-core/internal/store"
	"github.com/atendai/inbox-core/pkg/logger"
)

const defaultPageSize = 50

// InboxHandler serves conversation reads, the optimistic-send path and
// presence actions for the console UI.
type InboxHandler struct {
	store    *store.Store
	outbound *service.OutboundService
	engine   *rules.Engine
	tracker  *presence.Tracker
	prompter *presence.Prompter
	logger   *logger.Logger

	// Operator replies this session, per contact, for prompt cadence.
	mu            sync.Mutex
	sessionCounts map[string]int
}

// NewInboxHandler creates the inbox handler.
func NewInboxHandler(
	st *store.Store,
	outbound *service.OutboundService,
	engine *rules.Engine,
	tracker *presence.Tracker,
	prompter *presence.Prompter,
	log *logger.Logger,
) *InboxHandler {
	return &InboxHandler{
		store:         st,
		outbound:      outbound,
		engine:        engine,
		tracker:       tracker,
		prompter:      prompter,
		logger:        log,
		sessionCounts: make(map[string]int),
	}
}

// conversationSummary is the inbox-list projection of a conversation.
type conversationSummary struct {
	ContactID   string                   `json:"contact_id"`
	Contact     model.Contact            `json:"contact"`
	Status      model.ConversationStatus `json:"status"`
	AssigneeID  string                   `json:"assignee_id,omitempty"`
	Tags        []string                 `json:"tags,omitempty"`
	Unread      int                      `json:"unread"`
	LastMessage *model.Message           `json:"last_message,omitempty"`
	BotSilenced bool                     `json:"bot_silenced"`
}

// List handles GET /api/v1/inbox — conversations most-recent first.
func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	convs := h.store.Recency()
	out := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		s := conversationSummary{
			ContactID:   c.ContactID,
			Contact:     c.Contact,
			Status:      c.Status,
			AssigneeID:  c.AssigneeID,
			Tags:        c.Tags,
			Unread:      c.Unread,
			BotSilenced: h.engine.Silenced(c.ContactID),
		}
		if n := len(c.Messages); n > 0 {
			s.LastMessage = &c.Messages[n-1]
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// Select handles POST /api/v1/inbox/{contactID}/select — marks the
// conversation active (zeroing unread), loads history if absent, and
// announces viewing presence.
func (h *InboxHandler) Select(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contactID := chi.URLParam(r, "contactID")
	if err := middleware.ValidateContactID(contactID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.store.Select(contactID)
	h.tracker.StartViewing(ctx, contactID)

	conv := h.store.Snapshot(contactID)
	if conv == nil || len(conv.Messages) == 0 {
		if err := h.store.LoadInitial(ctx, contactID, defaultPageSize); err != nil {
			h.logger.Warn("initial load failed", zap.String("contact_id", contactID), zap.Error(err))
		}
		conv = h.store.Snapshot(contactID)
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Messages handles GET /api/v1/inbox/{contactID}/messages. With
// ?older=true it pages backward before returning the current window.
func (h *InboxHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contactID := chi.URLParam(r, "contactID")
	if err := middleware.ValidateContactID(contactID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultPageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	prepended := 0
	if r.URL.Query().Get("older") == "true" {
		n, err := h.store.LoadOlder(ctx, contactID, limit)
		if err != nil {
			if errors.Is(err, store.ErrNoConversation) {
				writeError(w, http.StatusNotFound, "conversation not found")
				return
			}
			h.logger.Warn("pagination failed", zap.String("contact_id", contactID), zap.Error(err))
			writeError(w, http.StatusBadGateway, "failed to load older messages")
			return
		}
		prepended = n
	}

	conv := h.store.Snapshot(contactID)
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":        conv.Messages,
		"has_more_before": conv.HasMoreBefore,
		"prepended":       prepended,
	})
}

// sendRequest is the optimistic-send body.
type sendRequest struct {
	Text  string       `json:"text"`
	Note  bool         `json:"note"`
	Media *model.Media `json:"media,omitempty"`
}

// sendResponse returns the temp id plus the assignment-prompt decision.
type sendResponse struct {
	TempID           string `json:"temp_id"`
	Status           string `json:"status"`
	PromptAssignment bool   `json:"prompt_assignment"`
}

// Send handles POST /api/v1/inbox/{contactID}/messages.
func (h *InboxHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operatorID := middleware.GetOperatorID(ctx)
	contactID := chi.URLParam(r, "contactID")
	if err := middleware.ValidateContactID(contactID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	draft := model.Draft{Text: req.Text, Media: req.Media, Author: model.AuthorOperator, Direction: model.DirectionOutboundRepl}
	if req.Note {
		draft.Direction = model.DirectionOutboundNote
	}

	tempID, err := h.outbound.SendOperatorReply(ctx, contactID, draft)
	status := string(model.StatusSent)
	if err != nil {
		// The message stays visible with status error; the operator can
		// retry from the UI. This is a non-blocking failure.
		h.logger.Warn("send failed", zap.String("contact_id", contactID), zap.Error(err))
		status = string(model.StatusError)
	}

	writeJSON(w, http.StatusAccepted, sendResponse{
		TempID:           tempID,
		Status:           status,
		PromptAssignment: h.promptDecision(operatorID, contactID),
	})
}

// promptDecision applies the assignment-prompt heuristic after an
// operator reply into an unassigned conversation.
func (h *InboxHandler) promptDecision(operatorID, contactID string) bool {
	conv := h.store.Snapshot(contactID)
	if conv == nil || conv.AssigneeID != "" {
		return false
	}

	h.mu.Lock()
	h.sessionCounts[operatorID+"/"+contactID]++
	count := h.sessionCounts[operatorID+"/"+contactID]
	h.mu.Unlock()

	prompt, err := h.prompter.ShouldPrompt(operatorID, contactID, count)
	if err != nil {
		h.logger.Warn("prompt decision failed", zap.String("contact_id", contactID), zap.Error(err))
		return false
	}
	return prompt
}

// DismissPrompt handles POST /api/v1/inbox/{contactID}/assign-prompt/dismiss.
func (h *InboxHandler) DismissPrompt(w http.ResponseWriter, r *http.Request) {
	operatorID := middleware.GetOperatorID(r.Context())
	contactID := chi.URLParam(r, "contactID")
	if err := h.prompter.Dismiss(operatorID, contactID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record dismissal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": true})
}

// typingRequest is the typing-state body.
type typingRequest struct {
	IsTyping bool   `json:"is_typing"`
	Text     string `json:"text,omitempty"`
}

// Typing handles POST /api/v1/inbox/{contactID}/typing.
func (h *InboxHandler) Typing(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")

	var req typingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.tracker.SetTyping(r.Context(), contactID, req.IsTyping, req.Text)
	w.WriteHeader(http.StatusNoContent)
}

// Leave handles POST /api/v1/inbox/{contactID}/leave.
func (h *InboxHandler) Leave(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	h.tracker.StopViewing(r.Context(), contactID)
	w.WriteHeader(http.StatusNoContent)
}

// Presence handles GET /api/v1/inbox/{contactID}/presence.
func (h *InboxHandler) Presence(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	writeJSON(w, http.StatusOK, map[string]any{
		"records": h.tracker.Records(contactID),
	})
}

// ResetBot handles POST /api/v1/inbox/{contactID}/bot/reset — the manual
// reset after a stop_responding rule silenced the conversation.
func (h *InboxHandler) ResetBot(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	h.engine.ResetSilence(contactID)
	writeJSON(w, http.StatusOK, map[string]bool{"silenced": false})
}
