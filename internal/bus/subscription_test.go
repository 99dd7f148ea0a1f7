package bus

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/pkg/logger"
)

func newTestSubscription(handlers Handlers) *Subscription {
	return &Subscription{
		orgID:    "org-1",
		frames:   make(chan []byte, dispatchBuffer),
		done:     make(chan struct{}),
		handlers: handlers,
		logger:   logger.NewNop(),
	}
}

func frame(t *testing.T, typ model.EventType, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(model.Envelope{
		Type:      typ,
		OrgID:     "org-1",
		EventTime: time.Now(),
		Payload:   raw,
	})
	require.NoError(t, err)
	return data
}

func TestSubscription_DispatchNewMessage(t *testing.T) {
	var got model.NewMessageEvent
	s := newTestSubscription(Handlers{
		OnNewMessage: func(ev model.NewMessageEvent) { got = ev },
	})

	s.dispatch(frame(t, model.EventNewMessage, model.NewMessageEvent{
		ContactID: "c1",
		Message: model.Message{
			ID:        "m1",
			Direction: model.DirectionInbound,
			Text:      "hello",
		},
	}))

	assert.Equal(t, "c1", got.ContactID)
	assert.Equal(t, "m1", got.Message.ID)
}

func TestSubscription_DispatchConversationUpdated(t *testing.T) {
	var got model.ConversationUpdatedEvent
	s := newTestSubscription(Handlers{
		OnConversationUpdated: func(ev model.ConversationUpdatedEvent) { got = ev },
	})

	open := model.ConversationOpen
	s.dispatch(frame(t, model.EventConversationUpdated, model.ConversationUpdatedEvent{
		ContactID: "c1",
		Patch:     model.ConversationPatch{Status: &open},
	}))

	assert.Equal(t, "c1", got.ContactID)
	require.NotNil(t, got.Patch.Status)
	assert.Equal(t, model.ConversationOpen, *got.Patch.Status)
}

func TestSubscription_DispatchPresence(t *testing.T) {
	var gotType model.EventType
	var got model.PresenceEvent
	s := newTestSubscription(Handlers{
		OnPresence: func(typ model.EventType, ev model.PresenceEvent) {
			gotType = typ
			got = ev
		},
	})

	s.dispatch(frame(t, model.EventPresenceTyping, model.PresenceEvent{
		OperatorID: "op-2", ContactID: "c1", Text: "hel",
	}))

	assert.Equal(t, model.EventPresenceTyping, gotType)
	assert.Equal(t, "op-2", got.OperatorID)
	assert.Equal(t, "hel", got.Text)
}

func TestSubscription_MalformedFramesDropped(t *testing.T) {
	called := false
	s := newTestSubscription(Handlers{
		OnNewMessage: func(model.NewMessageEvent) { called = true },
	})

	s.dispatch([]byte("{not json"))
	s.dispatch([]byte(`{"type":"new_message","payload":"not an object"}`))
	s.dispatch(frame(t, model.EventType("made_up"), map[string]string{}))

	assert.False(t, called, "bad frames must never reach handlers")
}

func TestSubscription_NilHandlersSkipped(t *testing.T) {
	s := newTestSubscription(Handlers{})

	// Must not panic with no handlers registered.
	s.dispatch(frame(t, model.EventNewMessage, model.NewMessageEvent{ContactID: "c1"}))
	s.dispatch(frame(t, model.EventPresenceLeft, model.PresenceEvent{OperatorID: "op-2"}))
}

func TestSubscription_HandlerPanicRecovered(t *testing.T) {
	calls := 0
	s := newTestSubscription(Handlers{
		OnNewMessage: func(model.NewMessageEvent) {
			calls++
			if calls == 1 {
				panic("boom")
			}
		},
	})

	s.dispatch(frame(t, model.EventNewMessage, model.NewMessageEvent{ContactID: "c1"}))
	// The loop survives the panic and keeps dispatching.
	s.dispatch(frame(t, model.EventNewMessage, model.NewMessageEvent{ContactID: "c2"}))

	assert.Equal(t, 2, calls)
}

func TestSubscription_DispatchLoopPreservesOrder(t *testing.T) {
	var order []string
	done := make(chan struct{})
	s := newTestSubscription(Handlers{
		OnNewMessage: func(ev model.NewMessageEvent) {
			order = append(order, ev.ContactID)
			if len(order) == 10 {
				close(done)
			}
		},
	})
	go s.dispatchLoop()
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.frames <- frame(t, model.EventNewMessage, model.NewMessageEvent{
			ContactID: fmt.Sprintf("c%d", i),
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not drain the queue")
	}

	for i, id := range order {
		assert.Equal(t, fmt.Sprintf("c%d", i), id)
	}
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	s := newTestSubscription(Handlers{})
	go s.dispatchLoop()

	s.Close()
	assert.NotPanics(t, func() { s.Close() })
}

func TestOrgSubject(t *testing.T) {
	assert.Equal(t, "inbox.org-42.events", OrgSubject("org-42"))
}
