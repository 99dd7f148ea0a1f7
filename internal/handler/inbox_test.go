package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/internal/store"
	"github.com/atendai/inbox-core/pkg/logger"
)

// stubLoader serves an empty history page.
type stubLoader struct{}

func (stubLoader) ListMessages(ctx context.Context, contactID string, before time.Time, limit int) (*model.MessagePage, error) {
	return &model.MessagePage{}, nil
}

func newMessagesRouter(st *store.Store) *chi.Mux {
	h := NewInboxHandler(st, nil, nil, nil, nil, logger.NewNop())
	r := chi.NewRouter()
	r.Get("/inbox/{contactID}/messages", h.Messages)
	return r
}

func TestInboxHandler_Messages_UnknownContactIs404(t *testing.T) {
	st := store.New(stubLoader{}, logger.NewNop())
	r := newMessagesRouter(st)

	// Paging backward in a conversation the store has never seen is a
	// client addressing error, not an upstream failure.
	req := httptest.NewRequest(http.MethodGet, "/inbox/c-missing/messages?older=true", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Same without pagination.
	req = httptest.NewRequest(http.MethodGet, "/inbox/c-missing/messages", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInboxHandler_Messages_KnownContact(t *testing.T) {
	st := store.New(stubLoader{}, logger.NewNop())
	st.ApplyInbound("c1", model.Message{
		ID:        "m1",
		Direction: model.DirectionInbound,
		Author:    model.AuthorContact,
		Text:      "oi",
		CreatedAt: time.Now(),
	}, nil)
	r := newMessagesRouter(st)

	req := httptest.NewRequest(http.MethodGet, "/inbox/c1/messages", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"m1"`)
}
