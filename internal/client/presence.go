package client

import (
	"context"
	"fmt"
)

type presenceBody struct {
	OperatorID string `json:"operator_id"`
	ContactID  string `json:"contact_id"`
	Text       string `json:"text,omitempty"`
}

// PublishViewing announces that an operator started viewing a conversation.
func (a *API) PublishViewing(ctx context.Context, operatorID, contactID string) error {
	body := presenceBody{OperatorID: operatorID, ContactID: contactID}
	if err := a.do(ctx, "POST", "/presence/viewing", body, nil); err != nil {
		return fmt.Errorf("failed to publish viewing: %w", err)
	}
	return nil
}

// PublishLeft announces that an operator left a conversation.
func (a *API) PublishLeft(ctx context.Context, operatorID, contactID string) error {
	body := presenceBody{OperatorID: operatorID, ContactID: contactID}
	if err := a.do(ctx, "POST", "/presence/left", body, nil); err != nil {
		return fmt.Errorf("failed to publish left: %w", err)
	}
	return nil
}

// PublishTyping announces that an operator is typing into a conversation.
func (a *API) PublishTyping(ctx context.Context, operatorID, contactID, text string) error {
	body := presenceBody{OperatorID: operatorID, ContactID: contactID, Text: text}
	if err := a.do(ctx, "POST", "/presence/typing", body, nil); err != nil {
		return fmt.Errorf("failed to publish typing: %w", err)
	}
	return nil
}
