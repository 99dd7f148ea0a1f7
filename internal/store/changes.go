package store

import (
	"github.com/atendai/inbox-core/internal/model"
)

// ChangeKind classifies store change notifications.
type ChangeKind string

const (
	ChangeMessage      ChangeKind = "message"
	ChangeConversation ChangeKind = "conversation"
	ChangeUnread       ChangeKind = "unread"
	ChangeHistory      ChangeKind = "history"
)

// Change is one store mutation, fanned out to watchers. Delivery to a
// slow watcher is dropped rather than blocking the writer.
type Change struct {
	Kind      ChangeKind     `json:"kind"`
	ContactID string         `json:"contact_id"`
	Message   *model.Message `json:"message,omitempty"`
}

const watcherBuffer = 256

// Watch registers a change watcher. The returned cancel func must be
// called to release it.
func (s *Store) Watch() (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextWatcher
	s.nextWatcher++
	ch := make(chan Change, watcherBuffer)
	s.watchers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Store) notifyLocked(c Change) {
	for _, ch := range s.watchers {
		select {
		case ch <- c:
		default:
			// watcher is behind; it will resync from a snapshot
		}
	}
}
