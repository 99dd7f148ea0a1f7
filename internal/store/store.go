// Package store holds the in-memory conversation state for one
// organization: per-contact message history, handling metadata, unread
// counters, the optimistic-send lifecycle and the backward-pagination
// cursor. All mutations funnel through a single mutex so sequencing is
// well-defined even when callers are concurrent.
package store

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/pkg/logger"
	"github.com/atendai/inbox-core/pkg/metrics"
)

// ErrNoConversation is returned when an operation references a contact
// the store has never seen.
var ErrNoConversation = errors.New("no conversation for contact")

// Loader fetches pages of message history from the persistence API.
type Loader interface {
	ListMessages(ctx context.Context, contactID string, before time.Time, limit int) (*model.MessagePage, error)
}

type entry struct {
	conv *model.Conversation
	elem *list.Element // position in the recency list; Value is the contact id
}

// Store is the conversation state store.
type Store struct {
	mu sync.Mutex

	conversations map[string]*entry
	recency       *list.List // front = most recently active

	// Contact whose conversation is open in the UI. Consulted by
	// ApplyInbound at delivery time to pick the live-delivery branch.
	active string

	// Per-contact load tokens. A load captures the token at start and its
	// result is discarded if the token moved on before it resolved.
	loadSeq map[string]uint64

	loader Loader
	logger *logger.Logger

	watchers    map[int]chan Change
	nextWatcher int
}

// New creates an empty store backed by the given history loader.
func New(loader Loader, log *logger.Logger) *Store {
	return &Store{
		conversations: make(map[string]*entry),
		recency:       list.New(),
		loadSeq:       make(map[string]uint64),
		loader:        loader,
		logger:        log,
		watchers:      make(map[int]chan Change),
	}
}

// Select marks a conversation as the active one and zeroes its unread
// counter. In-flight loads for the previously active contact are
// invalidated so a late response cannot land on an inactive view.
func (s *Store) Select(contactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" && s.active != contactID {
		s.loadSeq[s.active]++
	}
	s.active = contactID
	s.markAllReadLocked(contactID)
}

// ActiveContact returns the currently selected contact id, if any.
func (s *Store) ActiveContact() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MarkAllRead zeroes the unread counter for a contact.
func (s *Store) MarkAllRead(contactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markAllReadLocked(contactID)
}

func (s *Store) markAllReadLocked(contactID string) {
	e, ok := s.conversations[contactID]
	if !ok || e.conv.Unread == 0 {
		return
	}
	metrics.UnreadTotal.Sub(float64(e.conv.Unread))
	e.conv.Unread = 0
	s.notifyLocked(Change{Kind: ChangeUnread, ContactID: contactID})
}

// LoadInitial replaces the message list and pagination cursor for a
// contact with a fresh page from the persistence API. Overlapping calls
// resolve last-call-wins.
func (s *Store) LoadInitial(ctx context.Context, contactID string, limit int) error {
	token := s.bumpToken(contactID)

	page, err := s.loader.ListMessages(ctx, contactID, time.Time{}, limit)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadSeq[contactID] != token {
		s.logger.Debug("discarding stale initial load", zap.String("contact_id", contactID))
		return nil
	}

	e := s.ensureLocked(contactID, nil)
	msgs := sortedByTime(page.Messages)
	e.conv.Messages = msgs
	if e.conv.ChannelID == "" {
		for i := range msgs {
			if msgs[i].ChannelID != "" {
				e.conv.ChannelID = msgs[i].ChannelID
				break
			}
		}
	}
	e.conv.HasMoreBefore = page.HasMore
	if len(msgs) > 0 {
		e.conv.OldestLoadedAt = msgs[0].CreatedAt
	} else {
		e.conv.OldestLoadedAt = time.Time{}
	}
	e.conv.UpdatedAt = time.Now()

	metrics.StoreMutations.WithLabelValues("load_initial").Inc()
	s.notifyLocked(Change{Kind: ChangeHistory, ContactID: contactID})
	return nil
}

// LoadOlder fetches the page preceding the current cursor and prepends it.
// Already-rendered messages keep their relative positions: the page is
// inserted strictly before index 0. The result is discarded when the
// contact was switched away from before the response arrived.
func (s *Store) LoadOlder(ctx context.Context, contactID string, limit int) (int, error) {
	s.mu.Lock()
	e, ok := s.conversations[contactID]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("contact %s: %w", contactID, ErrNoConversation)
	}
	if !e.conv.HasMoreBefore {
		s.mu.Unlock()
		return 0, nil
	}
	before := e.conv.OldestLoadedAt
	token := s.loadSeq[contactID]
	s.mu.Unlock()

	page, err := s.loader.ListMessages(ctx, contactID, before, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load older messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadSeq[contactID] != token || s.active != contactID {
		s.logger.Debug("discarding stale pagination result", zap.String("contact_id", contactID))
		return 0, nil
	}

	e, ok = s.conversations[contactID]
	if !ok {
		return 0, nil
	}

	older := sortedByTime(page.Messages)
	// Live appends may have raced in at the tail; the prepend only touches
	// the front, so filter anything already present and splice.
	fresh := older[:0]
	for i := range older {
		if !e.conv.HasMessage(older[i].ID) {
			fresh = append(fresh, older[i])
		}
	}
	if len(fresh) > 0 {
		e.conv.Messages = append(fresh[:len(fresh):len(fresh)], e.conv.Messages...)
		e.conv.OldestLoadedAt = fresh[0].CreatedAt
	}
	e.conv.HasMoreBefore = page.HasMore

	metrics.StoreMutations.WithLabelValues("load_older").Inc()
	s.notifyLocked(Change{Kind: ChangeHistory, ContactID: contactID})
	return len(fresh), nil
}

// AppendOptimistic appends a locally authored message with status sending
// and returns its temporary id immediately. The caller confirms or fails
// it later via ConfirmSend.
func (s *Store) AppendOptimistic(contactID string, draft model.Draft) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(contactID, nil)

	msg := model.Message{
		ID:        "tmp-" + uuid.Must(uuid.NewV7()).String(),
		ContactID: contactID,
		Direction: draft.Direction,
		Author:    draft.Author,
		Text:      draft.Text,
		Media:     draft.Media,
		Status:    model.StatusSending,
		CreatedAt: time.Now(),
	}
	e.conv.Messages = append(e.conv.Messages, msg)
	e.conv.UpdatedAt = msg.CreatedAt
	s.bubbleLocked(e)

	metrics.StoreMutations.WithLabelValues("append_optimistic").Inc()
	s.notifyLocked(Change{Kind: ChangeMessage, ContactID: contactID, Message: &msg})
	return msg.ID
}

// ConfirmSend transitions an optimistic message to sent or error. Failed
// messages stay in the list so the operator can see and retry them.
func (s *Store) ConfirmSend(contactID, tempID string, finalStatus model.MessageStatus, externalID string) error {
	if finalStatus != model.StatusSent && finalStatus != model.StatusError {
		return fmt.Errorf("invalid final status %q", finalStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.conversations[contactID]
	if !ok {
		return fmt.Errorf("contact %s: %w", contactID, ErrNoConversation)
	}

	for i := range e.conv.Messages {
		m := &e.conv.Messages[i]
		if m.ID != tempID {
			continue
		}
		if m.Status != model.StatusSending {
			return nil // already confirmed, duplicate confirmation is a no-op
		}
		m.Status = finalStatus
		m.ExternalID = externalID
		metrics.StoreMutations.WithLabelValues("confirm_send").Inc()
		s.notifyLocked(Change{Kind: ChangeMessage, ContactID: contactID, Message: m})
		return nil
	}
	return fmt.Errorf("no pending message %s for contact %s", tempID, contactID)
}

// ApplyInbound applies a message observed on the event bus. Duplicate
// delivery is a no-op. A new conversation is constructed from the contact
// snapshot when needed. The unread counter increments unless the contact
// is the active conversation, in which case the message is delivered live.
func (s *Store) ApplyInbound(contactID string, msg model.Message, snapshot *model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(contactID, snapshot)

	if (msg.ID != "" && e.conv.HasMessage(msg.ID)) ||
		(msg.ExternalID != "" && e.conv.HasMessage(msg.ExternalID)) {
		metrics.StoreDuplicatesTotal.Inc()
		return
	}

	msg.ContactID = contactID
	if msg.Status == "" {
		msg.Status = model.StatusSent
	}
	if msg.ChannelID != "" && e.conv.ChannelID == "" {
		e.conv.ChannelID = msg.ChannelID
	}
	s.insertFromTailLocked(e.conv, msg)
	e.conv.UpdatedAt = time.Now()

	if msg.Inbound() && contactID != s.active {
		e.conv.Unread++
		metrics.UnreadTotal.Inc()
	}
	s.bubbleLocked(e)

	metrics.StoreMutations.WithLabelValues("apply_inbound").Inc()
	s.notifyLocked(Change{Kind: ChangeMessage, ContactID: contactID, Message: &msg})
}

// ApplyConversationUpdate shallow-merges status/assignee/agent/tag fields.
// The message list is never touched.
func (s *Store) ApplyConversationUpdate(contactID string, patch model.ConversationPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.conversations[contactID]
	if !ok {
		return
	}

	touched := false
	if patch.Status != nil {
		e.conv.Status = *patch.Status
		touched = true
	}
	if patch.AssigneeID != nil {
		e.conv.AssigneeID = *patch.AssigneeID
		touched = true
	}
	if patch.AgentID != nil {
		e.conv.AgentID = *patch.AgentID
		touched = true
	}
	for _, tag := range patch.AddTags {
		if !e.conv.HasTag(tag) {
			e.conv.Tags = append(e.conv.Tags, tag)
			touched = true
		}
	}
	if !touched {
		return
	}

	e.conv.UpdatedAt = time.Now()
	s.bubbleLocked(e)
	metrics.StoreMutations.WithLabelValues("apply_update").Inc()
	s.notifyLocked(Change{Kind: ChangeConversation, ContactID: contactID})
}

// Snapshot returns a copy of one conversation, or nil if unknown.
func (s *Store) Snapshot(contactID string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.conversations[contactID]
	if !ok {
		return nil
	}
	return cloneConversation(e.conv)
}

// Recency returns all conversations most-recently-active first.
func (s *Store) Recency() []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Conversation, 0, s.recency.Len())
	for el := s.recency.Front(); el != nil; el = el.Next() {
		id := el.Value.(string)
		out = append(out, cloneConversation(s.conversations[id].conv))
	}
	return out
}

// ensureLocked returns the entry for a contact, constructing the
// conversation (at the front of the recency list) if it does not exist.
func (s *Store) ensureLocked(contactID string, snapshot *model.Contact) *entry {
	if e, ok := s.conversations[contactID]; ok {
		if snapshot != nil && e.conv.Contact.Name == "" {
			e.conv.Contact = *snapshot
		}
		return e
	}

	conv := &model.Conversation{
		ContactID: contactID,
		Status:    model.ConversationPending,
		UpdatedAt: time.Now(),
	}
	if snapshot != nil {
		conv.Contact = *snapshot
	} else {
		conv.Contact = model.Contact{ID: contactID}
	}

	e := &entry{conv: conv}
	e.elem = s.recency.PushFront(contactID)
	s.conversations[contactID] = e
	return e
}

// bubbleLocked moves a conversation to the head of the recency list.
// MoveToFront on the linked list is O(1) regardless of list size.
func (s *Store) bubbleLocked(e *entry) {
	s.recency.MoveToFront(e.elem)
}

// insertFromTailLocked places a message so the list stays non-decreasing
// by timestamp. The common case is a plain tail append; a slightly stale
// bus delivery walks back a few slots at most.
func (s *Store) insertFromTailLocked(conv *model.Conversation, msg model.Message) {
	msgs := conv.Messages
	i := len(msgs)
	for i > 0 && msgs[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	if i == len(msgs) {
		conv.Messages = append(msgs, msg)
		return
	}
	conv.Messages = append(msgs[:i], append([]model.Message{msg}, msgs[i:]...)...)
	if i == 0 || msg.CreatedAt.Before(conv.OldestLoadedAt) {
		conv.OldestLoadedAt = conv.Messages[0].CreatedAt
	}
}

func (s *Store) bumpToken(contactID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadSeq[contactID]++
	return s.loadSeq[contactID]
}

func sortedByTime(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Messages = make([]model.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	cp.Tags = append([]string(nil), c.Tags...)
	return &cp
}
