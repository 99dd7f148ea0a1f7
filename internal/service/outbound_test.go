package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atendai/inbox-core/internal/client"
	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/internal/store"
	"github.com/atendai/inbox-core/pkg/logger"
)

// fakeBackend stands in for the channel-send and persistence API.
type fakeBackend struct {
	mu         sync.Mutex
	sends      []client.SendRequest
	persisted  []model.Message
	sendStatus int
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/ch-1/send", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req client.SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.sends = append(f.sends, req)
		if f.sendStatus != 0 {
			w.WriteHeader(f.sendStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(client.SendResponse{ExternalID: "ext-1"})
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var msg model.Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		f.persisted = append(f.persisted, msg)
		msg.ID = "stored-1"
		_ = json.NewEncoder(w).Encode(msg)
	})
	return mux
}

func newOutboundFixture(t *testing.T) (*OutboundService, *store.Store, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	api := client.New(srv.URL, "test-token")
	st := store.New(api, logger.NewNop())

	// Seed a conversation bound to a channel.
	st.ApplyInbound("c1", model.Message{
		ID:        "m1",
		ChannelID: "ch-1",
		Direction: model.DirectionInbound,
		Author:    model.AuthorContact,
		Text:      "oi",
		CreatedAt: time.Now(),
	}, &model.Contact{ID: "c1", Name: "Ana", Number: "+5511999"})

	return NewOutboundService(st, api, logger.NewNop()), st, backend
}

func TestOutboundService_Send_Confirmed(t *testing.T) {
	svc, st, backend := newOutboundFixture(t)

	tempID, err := svc.SendOperatorReply(context.Background(), "c1", model.Draft{Text: "on my way"})
	require.NoError(t, err)
	require.NotEmpty(t, tempID)

	conv := st.Snapshot("c1")
	require.Len(t, conv.Messages, 2)
	sent := conv.Messages[1]
	assert.Equal(t, tempID, sent.ID)
	assert.Equal(t, model.StatusSent, sent.Status)
	assert.Equal(t, "ext-1", sent.ExternalID)
	assert.Equal(t, model.AuthorOperator, sent.Author)
	assert.Equal(t, model.DirectionOutboundRepl, sent.Direction)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.sends, 1)
	assert.Equal(t, "+5511999", backend.sends[0].Number)
	assert.Equal(t, "on my way", backend.sends[0].Text)
	require.Len(t, backend.persisted, 1)
	assert.Equal(t, "ext-1", backend.persisted[0].ExternalID)
}

func TestOutboundService_Send_ChannelFailure(t *testing.T) {
	svc, st, backend := newOutboundFixture(t)
	backend.sendStatus = http.StatusBadGateway

	tempID, err := svc.SendOperatorReply(context.Background(), "c1", model.Draft{Text: "lost"})
	require.Error(t, err)
	require.NotEmpty(t, tempID, "the temp id returns even on failure")

	// The failed message stays visible with status error.
	conv := st.Snapshot("c1")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.StatusError, conv.Messages[1].Status)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.persisted, "failed sends are not persisted")
}

func TestOutboundService_Send_UnknownConversation(t *testing.T) {
	svc, _, _ := newOutboundFixture(t)

	_, err := svc.Send(context.Background(), "c-unknown", model.Draft{Text: "x"})
	assert.Error(t, err)
}

func TestOutboundService_SendAgentReply(t *testing.T) {
	svc, st, _ := newOutboundFixture(t)

	require.NoError(t, svc.SendAgentReply(context.Background(), "c1", "how can I help?"))

	conv := st.Snapshot("c1")
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.AuthorAgent, conv.Messages[1].Author)
	assert.Equal(t, model.StatusSent, conv.Messages[1].Status)
}
