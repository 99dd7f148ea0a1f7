package client

import (
	"context"
	"fmt"

	"github.com/atendai/inbox-core/internal/model"
)

// SendRequest is the per-channel outbound send payload.
type SendRequest struct {
	Number string       `json:"number"`
	Text   string       `json:"text,omitempty"`
	Media  *model.Media `json:"mediaMessage,omitempty"`
}

// SendResponse carries the provider-assigned id used to correlate later
// delivery-status events.
type SendResponse struct {
	ExternalID string `json:"external_id"`
}

// SendMessage delivers a message through a channel connector.
func (a *API) SendMessage(ctx context.Context, channelID string, req *SendRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := a.do(ctx, "POST", "/channels/"+channelID+"/send", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &resp, nil
}
