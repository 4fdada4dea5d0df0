package upstream

import (
	"context"
	"encoding/json"
	"fmt"
)

// ClientSecret is the ephemeral credential embedded in a realtime session.
type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// RealtimeSession is the upstream response to a session mint. Raw preserves
// the full upstream object so the gateway can pass it through untouched.
type RealtimeSession struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Voice        string       `json:"voice"`
	ClientSecret ClientSecret `json:"client_secret"`

	Raw map[string]any `json:"-"`
}

// MintRealtimeSession requests an ephemeral credential for the given model
// and voice. Upstream error statuses surface as *StatusError.
func (c *Client) MintRealtimeSession(ctx context.Context, model, voice string) (*RealtimeSession, error) {
	payload := map[string]string{
		"model": model,
		"voice": voice,
	}

	var raw json.RawMessage
	if err := c.PostJSON(ctx, "/realtime/sessions", payload, &raw); err != nil {
		return nil, fmt.Errorf("realtime session mint failed: %w", err)
	}

	var session RealtimeSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if session.ClientSecret.Value == "" {
		return nil, fmt.Errorf("invalid session response: missing client_secret.value")
	}
	if err := json.Unmarshal(raw, &session.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	return &session, nil
}
