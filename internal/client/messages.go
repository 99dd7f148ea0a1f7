package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/atendai/inbox-core/internal/model"
)

// ListMessages fetches one page of history for a contact, newest-last.
// A zero before time means "from the latest".
func (a *API) ListMessages(ctx context.Context, contactID string, before time.Time, limit int) (*model.MessagePage, error) {
	q := url.Values{}
	q.Set("contactId", contactID)
	q.Set("limit", fmt.Sprintf("%d", limit))
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}

	var page model.MessagePage
	if err := a.do(ctx, "GET", "/messages?"+q.Encode(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return &page, nil
}

// CreateMessage persists an outbound message and returns the stored copy
// with its store-assigned id.
func (a *API) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	var stored model.Message
	if err := a.do(ctx, "POST", "/messages", msg, &stored); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &stored, nil
}
