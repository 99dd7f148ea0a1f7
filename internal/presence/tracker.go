// Package presence tracks which operators are viewing or typing into
// which conversations, broadcasts the local operator's state, and feeds
// the auto-assignment heuristic.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/pkg/logger"
	"github.com/atendai/inbox-core/pkg/metrics"
)

// Egress publishes the local operator's presence outward.
type Egress interface {
	PublishViewing(ctx context.Context, operatorID, contactID string) error
	PublishLeft(ctx context.Context, operatorID, contactID string) error
	PublishTyping(ctx context.Context, operatorID, contactID, text string) error
}

// Tracker holds the presence map for one operator's session.
type Tracker struct {
	operatorID   string
	egress       Egress
	typingExpiry time.Duration
	logger       *logger.Logger

	mu sync.Mutex
	// contact id → operator id → record, for remote operators.
	records map[string]map[string]*model.PresenceRecord
	// per-contact typing expiry timer for the local operator.
	typing map[string]*Timer
}

// NewTracker creates a tracker for the local operator.
func NewTracker(operatorID string, egress Egress, typingExpiry time.Duration, log *logger.Logger) *Tracker {
	if typingExpiry <= 0 {
		typingExpiry = 2 * time.Second
	}
	return &Tracker{
		operatorID:   operatorID,
		egress:       egress,
		typingExpiry: typingExpiry,
		logger:       log,
		records:      make(map[string]map[string]*model.PresenceRecord),
		typing:       make(map[string]*Timer),
	}
}

// StartViewing announces that the local operator opened a conversation.
func (t *Tracker) StartViewing(ctx context.Context, contactID string) {
	if err := t.egress.PublishViewing(ctx, t.operatorID, contactID); err != nil {
		t.logger.Warn("failed to publish viewing", zap.String("contact_id", contactID), zap.Error(err))
	}
}

// StopViewing announces that the local operator left a conversation and
// cancels any pending typing expiry for it.
func (t *Tracker) StopViewing(ctx context.Context, contactID string) {
	t.mu.Lock()
	if timer, ok := t.typing[contactID]; ok {
		timer.Cancel()
		delete(t.typing, contactID)
	}
	t.mu.Unlock()

	if err := t.egress.PublishLeft(ctx, t.operatorID, contactID); err != nil {
		t.logger.Warn("failed to publish left", zap.String("contact_id", contactID), zap.Error(err))
	}
}

// SetTyping announces typing state. Typing auto-expires back to viewing
// after the idle window; each keystroke re-arms the same timer rather
// than stacking a new one.
func (t *Tracker) SetTyping(ctx context.Context, contactID string, isTyping bool, text string) {
	t.mu.Lock()
	timer, ok := t.typing[contactID]
	if !ok {
		timer = NewTimer()
		t.typing[contactID] = timer
	}
	t.mu.Unlock()

	if !isTyping {
		timer.Cancel()
		if err := t.egress.PublishViewing(ctx, t.operatorID, contactID); err != nil {
			t.logger.Warn("failed to publish viewing", zap.String("contact_id", contactID), zap.Error(err))
		}
		return
	}

	if err := t.egress.PublishTyping(ctx, t.operatorID, contactID, text); err != nil {
		t.logger.Warn("failed to publish typing", zap.String("contact_id", contactID), zap.Error(err))
	}
	timer.Arm(t.typingExpiry, func() {
		t.SetTyping(context.Background(), contactID, false, "")
	})
}

// ApplyRemote ingests a presence event from another operator.
func (t *Tracker) ApplyRemote(eventType model.EventType, ev model.PresenceEvent) {
	if ev.OperatorID == t.operatorID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byOp, ok := t.records[ev.ContactID]
	if !ok {
		byOp = make(map[string]*model.PresenceRecord)
		t.records[ev.ContactID] = byOp
	}

	switch eventType {
	case model.EventPresenceLeft:
		if rec, ok := byOp[ev.OperatorID]; ok {
			metrics.PresenceRecords.WithLabelValues(string(rec.State)).Dec()
			delete(byOp, ev.OperatorID)
		}

	case model.EventPresenceViewing, model.EventPresenceTyping:
		state := model.PresenceViewing
		if eventType == model.EventPresenceTyping {
			state = model.PresenceTyping
		}
		if rec, ok := byOp[ev.OperatorID]; ok {
			if rec.State != state {
				metrics.PresenceRecords.WithLabelValues(string(rec.State)).Dec()
				metrics.PresenceRecords.WithLabelValues(string(state)).Inc()
				rec.State = state
				rec.Since = time.Now()
			}
			return
		}
		byOp[ev.OperatorID] = &model.PresenceRecord{
			OperatorID:   ev.OperatorID,
			OperatorName: ev.OperatorName,
			ContactID:    ev.ContactID,
			State:        state,
			Since:        time.Now(),
		}
		metrics.PresenceRecords.WithLabelValues(string(state)).Inc()
	}
}

// Records returns the presence records for one conversation.
func (t *Tracker) Records(contactID string) []model.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	byOp := t.records[contactID]
	out := make([]model.PresenceRecord, 0, len(byOp))
	for _, rec := range byOp {
		out = append(out, *rec)
	}
	return out
}

// Run drives the local tick that grows ViewDuration for active viewing
// records. Purely local; no network cost per tick.
func (t *Tracker) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			for _, byOp := range t.records {
				for _, rec := range byOp {
					if rec.State == model.PresenceViewing || rec.State == model.PresenceTyping {
						rec.ViewDuration += tick
					}
				}
			}
			t.mu.Unlock()
		}
	}
}
