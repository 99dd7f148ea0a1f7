// Package service provides the outbound-send path: optimistic append,
// channel delivery, confirmation and persistence.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atendai/inbox-core/internal/client"
	"github.com/atendai/inbox-core/internal/model"
	"github.com/atendai/inbox-core/internal/store"
	"github.com/atendai/inbox-core/pkg/logger"
)

// OutboundService sends operator and agent messages. The message shows
// up in the store immediately with status sending and is confirmed or
// failed when the channel responds; failed messages stay visible so the
// operator can retry by hand.
type OutboundService struct {
	store  *store.Store
	api    *client.API
	logger *logger.Logger
}

// NewOutboundService creates the outbound send path.
func NewOutboundService(st *store.Store, api *client.API, log *logger.Logger) *OutboundService {
	return &OutboundService{store: st, api: api, logger: log}
}

// Send appends the draft optimistically and delivers it through the
// conversation's channel. The temp id returns even on delivery failure;
// the message is then marked error rather than removed.
func (s *OutboundService) Send(ctx context.Context, contactID string, draft model.Draft) (string, error) {
	conv := s.store.Snapshot(contactID)
	if conv == nil {
		return "", fmt.Errorf("no conversation for contact %s", contactID)
	}
	if conv.ChannelID == "" {
		return "", fmt.Errorf("conversation %s has no channel", contactID)
	}

	tempID := s.store.AppendOptimistic(contactID, draft)

	resp, err := s.api.SendMessage(ctx, conv.ChannelID, &client.SendRequest{
		Number: conv.Contact.Number,
		Text:   draft.Text,
		Media:  draft.Media,
	})
	if err != nil {
		if cerr := s.store.ConfirmSend(contactID, tempID, model.StatusError, ""); cerr != nil {
			s.logger.Error("failed to mark message as error", zap.String("temp_id", tempID), zap.Error(cerr))
		}
		return tempID, fmt.Errorf("channel delivery failed: %w", err)
	}

	if err := s.store.ConfirmSend(contactID, tempID, model.StatusSent, resp.ExternalID); err != nil {
		s.logger.Error("failed to confirm send", zap.String("temp_id", tempID), zap.Error(err))
	}

	// Persist a copy so history survives reloads. Persistence failure is
	// logged, not surfaced: the message was already delivered.
	persisted := model.Message{
		ExternalID: resp.ExternalID,
		ContactID:  contactID,
		Direction:  draft.Direction,
		Author:     draft.Author,
		Text:       draft.Text,
		Media:      draft.Media,
		Status:     model.StatusSent,
	}
	if _, err := s.api.CreateMessage(ctx, &persisted); err != nil {
		s.logger.Warn("failed to persist outbound message", zap.String("contact_id", contactID), zap.Error(err))
	}

	return tempID, nil
}

// SendAgentReply sends an agent-authored reply. Implements rules.Sender.
func (s *OutboundService) SendAgentReply(ctx context.Context, contactID, text string) error {
	_, err := s.Send(ctx, contactID, model.Draft{
		Direction: model.DirectionOutboundRepl,
		Author:    model.AuthorAgent,
		Text:      text,
	})
	return err
}

// SendOperatorReply sends an operator-authored reply or note.
func (s *OutboundService) SendOperatorReply(ctx context.Context, contactID string, draft model.Draft) (string, error) {
	if draft.Author == "" {
		draft.Author = model.AuthorOperator
	}
	if draft.Direction == "" {
		draft.Direction = model.DirectionOutboundRepl
	}
	return s.Send(ctx, contactID, draft)
}
