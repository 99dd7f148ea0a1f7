package bus

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/pkg/logger"
	"github.com/atendai/inbox-core/pkg/metrics"
)

// SubjectPrefix is the prefix for all org event subjects.
const SubjectPrefix = "inbox"

// dispatchBuffer bounds the number of frames queued between the transport
// callback and the dispatch goroutine. Frames past the buffer are dropped;
// delivery is at-most-once and consumers degrade gracefully on loss.
const dispatchBuffer = 1024

// OrgSubject returns the subject carrying all events for an organization.
func OrgSubject(orgID string) string {
	return fmt.Sprintf("%s.%s.events", SubjectPrefix, orgID)
}

// Handlers receives decoded events. All callbacks run on a single
// goroutine: handling of event N fully completes before event N+1 is
// delivered. Nil callbacks are skipped.
type Handlers struct {
	OnNewMessage          func(model.NewMessageEvent)
	OnConversationUpdated func(model.ConversationUpdatedEvent)
	OnPresence            func(model.EventType, model.PresenceEvent)
}

// Subscription is one live org event stream.
type Subscription struct {
	orgID     string
	sub       *nats.Subscription
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	handlers  Handlers
	logger    *logger.Logger
}

// Subscribe opens the event stream for one organization. The transport
// layer resubscribes transparently on reconnect.
func (c *Client) Subscribe(orgID string, handlers Handlers) (*Subscription, error) {
	if orgID == "" {
		return nil, fmt.Errorf("org id is required")
	}

	s := &Subscription{
		orgID:    orgID,
		frames:   make(chan []byte, dispatchBuffer),
		done:     make(chan struct{}),
		handlers: handlers,
		logger:   c.logger.WithOrg(orgID),
	}

	sub, err := c.conn.Subscribe(OrgSubject(orgID), func(msg *nats.Msg) {
		select {
		case s.frames <- msg.Data:
		default:
			metrics.RecordBusDrop(orgID, "queue_full")
			s.logger.Warn("dropping event frame, dispatch queue full")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to org events: %w", err)
	}
	s.sub = sub

	go s.dispatchLoop()

	return s, nil
}

// Close tears down the subscription and stops the dispatch loop.
// Closing twice is a no-op.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.sub != nil {
			_ = s.sub.Unsubscribe()
		}
		close(s.done)
	})
}

func (s *Subscription) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.frames:
			s.dispatch(frame)
		}
	}
}

// dispatch decodes one frame and invokes the matching handler. Malformed
// frames are logged and dropped; a panicking handler is recovered so one
// bad event cannot kill the loop.
func (s *Subscription) dispatch(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordBusDrop(s.orgID, "handler_panic")
			s.logger.Error("event handler panicked", zap.Any("panic", r))
		}
	}()

	var env model.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		metrics.RecordBusDrop(s.orgID, "malformed_frame")
		s.logger.Warn("dropping malformed event frame", zap.Error(err))
		return
	}

	metrics.RecordBusEvent(s.orgID, string(env.Type))

	switch env.Type {
	case model.EventNewMessage:
		var ev model.NewMessageEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			metrics.RecordBusDrop(s.orgID, "malformed_payload")
			s.logger.Warn("dropping malformed new_message payload", zap.Error(err))
			return
		}
		if s.handlers.OnNewMessage != nil {
			s.handlers.OnNewMessage(ev)
		}

	case model.EventConversationUpdated:
		var ev model.ConversationUpdatedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			metrics.RecordBusDrop(s.orgID, "malformed_payload")
			s.logger.Warn("dropping malformed conversation_updated payload", zap.Error(err))
			return
		}
		if s.handlers.OnConversationUpdated != nil {
			s.handlers.OnConversationUpdated(ev)
		}

	case model.EventPresenceViewing, model.EventPresenceTyping, model.EventPresenceLeft:
		var ev model.PresenceEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			metrics.RecordBusDrop(s.orgID, "malformed_payload")
			s.logger.Warn("dropping malformed presence payload", zap.Error(err))
			return
		}
		if s.handlers.OnPresence != nil {
			s.handlers.OnPresence(env.Type, ev)
		}

	default:
		metrics.RecordBusDrop(s.orgID, "unknown_type")
		s.logger.Warn("dropping event with unknown type", zap.String("type", string(env.Type)))
	}
}
