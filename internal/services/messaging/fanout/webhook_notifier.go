package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// WebhookNotifier posts events as JSON to an external notification endpoint.
type WebhookNotifier struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewWebhookNotifier constructs a webhook sink. A nil client falls back to
// http.DefaultClient; per-delivery deadlines come from the caller's context.
func NewWebhookNotifier(endpoint string, secret string, client *http.Client) (*WebhookNotifier, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookNotifier{
		endpoint: endpoint,
		secret:   strings.TrimSpace(secret),
		client:   client,
	}, nil
}

type webhookPayload struct {
	Kind           string `json:"kind"`
	ActorID        string `json:"actor_id,omitempty"`
	TargetID       string `json:"target_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	GroupName      string `json:"group_name,omitempty"`
	ContentPreview string `json:"content_preview,omitempty"`
	IsGroup        bool   `json:"is_group,omitempty"`
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.client == nil {
		return fmt.Errorf("webhook notifier is not configured")
	}
	if event == nil {
		return fmt.Errorf("event is required")
	}

	payload := webhookPayload{
		Kind:     event.Kind(),
		TargetID: event.Target(),
	}
	switch e := event.(type) {
	case NewMessage:
		payload.ActorID = e.ActorID
		payload.ConversationID = e.ConversationID
		payload.GroupName = e.GroupName
		payload.ContentPreview = e.ContentPreview
		payload.IsGroup = e.IsGroup
	case GroupCreated:
		payload.ActorID = e.ActorID
		payload.ConversationID = e.ConversationID
		payload.GroupName = e.GroupName
		payload.IsGroup = true
	case GroupInvite:
		payload.ActorID = e.ActorID
		payload.ConversationID = e.ConversationID
		payload.GroupName = e.GroupName
		payload.IsGroup = true
	default:
		return fmt.Errorf("unsupported event kind %q", event.Kind())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.secret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}
