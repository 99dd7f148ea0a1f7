package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/atendai/inbox-core/internal/model"
)

// AssignContact assigns a conversation to an operator. An empty operator
// id clears the assignment for pool pickup.
func (a *API) AssignContact(ctx context.Context, contactID, operatorID string) error {
	body := map[string]string{"assignee_id": operatorID}
	if err := a.do(ctx, "PATCH", "/contacts/"+contactID+"/assign", body, nil); err != nil {
		return fmt.Errorf("failed to assign contact: %w", err)
	}
	return nil
}

// ResolveContact transitions a conversation to resolved.
func (a *API) ResolveContact(ctx context.Context, contactID string) error {
	if err := a.do(ctx, "PATCH", "/contacts/"+contactID+"/resolve", nil, nil); err != nil {
		return fmt.Errorf("failed to resolve contact: %w", err)
	}
	return nil
}

// OpenContact transitions a conversation to open.
func (a *API) OpenContact(ctx context.Context, contactID string) error {
	if err := a.do(ctx, "PATCH", "/contacts/"+contactID+"/open", nil, nil); err != nil {
		return fmt.Errorf("failed to open contact: %w", err)
	}
	return nil
}

// PatchContact applies a partial update to a contact record.
func (a *API) PatchContact(ctx context.Context, contactID string, patch map[string]any) error {
	if err := a.do(ctx, "PATCH", "/contacts/"+contactID, patch, nil); err != nil {
		return fmt.Errorf("failed to patch contact: %w", err)
	}
	return nil
}

// AttachTag attaches a tag to a contact. A 409 from the backend means the
// tag is already attached and is treated as success.
func (a *API) AttachTag(ctx context.Context, contactID, tag string) error {
	body := map[string]string{"tag": tag}
	err := a.do(ctx, "POST", "/contacts/"+contactID+"/tags", body, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("failed to attach tag: %w", err)
	}
	return nil
}

// SwitchAgent rebinds the conversation to a different configured agent.
func (a *API) SwitchAgent(ctx context.Context, contactID, agentID string) error {
	body := map[string]string{"agent_id": agentID}
	if err := a.do(ctx, "PATCH", "/contacts/"+contactID+"/agent", body, nil); err != nil {
		return fmt.Errorf("failed to switch agent: %w", err)
	}
	return nil
}

// ListRules fetches the active automation rules for an agent.
func (a *API) ListRules(ctx context.Context, agentID string) ([]model.AutomationRule, error) {
	var out struct {
		Rules []model.AutomationRule `json:"rules"`
	}
	if err := a.do(ctx, "GET", "/agents/"+agentID+"/rules?active=true", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return out.Rules, nil
}
