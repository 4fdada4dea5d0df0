// Package client is the orchestrator's HTTP client for the backend gateway.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tinge-app/tinge/internal/adapters/retry"
	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/upstream"
)

// Client calls the session gateway. Latency-bounded calls (search, verify)
// are never retried; the gateway applies its own policy upstream.
type Client struct {
	std     *upstream.Client
	noRetry *upstream.Client
}

func New(baseURL string) *Client {
	return &Client{
		std:     upstream.NewClient(baseURL, "", "gateway"),
		noRetry: upstream.NewClient(baseURL, "", "gateway").WithRetryConfig(retry.NoRetry()),
	}
}

// TokenSession is the gateway's /token response: the upstream session
// object merged with the ledger snapshot for the minted credential.
type TokenSession struct {
	ID           string                `json:"id"`
	Model        string                `json:"model"`
	Voice        string                `json:"voice"`
	ClientSecret upstream.ClientSecret `json:"client_secret"`
	TokenUsage   models.UsageSnapshot  `json:"tokenUsage"`
}

// MintToken requests a fresh ephemeral credential from the gateway.
func (c *Client) MintToken(ctx context.Context) (*TokenSession, error) {
	var session TokenSession
	if err := c.std.Get(ctx, "/token", &session); err != nil {
		return nil, fmt.Errorf("token mint failed: %w", err)
	}
	if session.ClientSecret.Value == "" {
		return nil, fmt.Errorf("token response missing client secret")
	}
	return &session, nil
}

type transcribeResult struct {
	Words    []models.WordTiming `json:"words"`
	FullText string              `json:"fullText"`
}

// Transcribe uploads recorded audio and returns word timings with the full
// text.
func (c *Client) Transcribe(ctx context.Context, fileName string, audio []byte) ([]models.WordTiming, string, error) {
	var result transcribeResult
	err := c.std.PostMultipart(ctx, "/transcribe", nil, "file", fileName, audio, &result)
	if err != nil {
		return nil, "", fmt.Errorf("transcribe request failed: %w", err)
	}
	return result.Words, result.FullText, nil
}

// SearchKnowledge forwards a retrieval query and returns the raw response.
func (c *Client) SearchKnowledge(ctx context.Context, req upstream.SearchRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.noRetry.PostJSON(ctx, "/knowledge/search", req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// VerifyResult is the gateway's correction verification response.
type VerifyResult struct {
	CorrectionID string  `json:"correction_id"`
	Mistake      string  `json:"mistake"`
	Correction   string  `json:"correction"`
	Rule         string  `json:"rule"`
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	IsAmbiguous  bool    `json:"is_ambiguous"`
	VerifiedAt   string  `json:"verified_at"`
	Model        string  `json:"model"`
}

// VerifyCorrectionRequest is the verification payload.
type VerifyCorrectionRequest struct {
	CorrectionID        string `json:"correction_id,omitempty"`
	Original            string `json:"original"`
	Corrected           string `json:"corrected"`
	CorrectionType      string `json:"correction_type"`
	LearnerLevel        string `json:"learner_level,omitempty"`
	ConversationContext string `json:"conversation_context,omitempty"`
}

// VerifyCorrection validates a detected correction through the gateway.
func (c *Client) VerifyCorrection(ctx context.Context, req VerifyCorrectionRequest) (*VerifyResult, error) {
	var result VerifyResult
	if err := c.noRetry.PostJSON(ctx, "/correction/verify", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type estimatePayload struct {
	Text          string  `json:"text,omitempty"`
	AudioDuration float64 `json:"audioDuration,omitempty"`
}

// PostEstimate forwards accumulated text and audio to the usage ledger.
func (c *Client) PostEstimate(ctx context.Context, key, text string, audioDuration float64) (*models.UsageSnapshot, error) {
	var snap models.UsageSnapshot
	err := c.std.PostJSON(ctx, "/token-usage/"+key+"/estimate", estimatePayload{Text: text, AudioDuration: audioDuration}, &snap)
	if err != nil {
		return nil, fmt.Errorf("usage estimate failed: %w", err)
	}
	return &snap, nil
}

type actualPayload struct {
	UsageData models.UsageReport `json:"usageData"`
}

// PostActual forwards an upstream usage report to the ledger.
func (c *Client) PostActual(ctx context.Context, key string, report models.UsageReport) (*models.UsageSnapshot, error) {
	var snap models.UsageSnapshot
	err := c.std.PostJSON(ctx, "/token-usage/"+key+"/actual", actualPayload{UsageData: report}, &snap)
	if err != nil {
		return nil, fmt.Errorf("usage actual failed: %w", err)
	}
	return &snap, nil
}

// Usage fetches the current ledger snapshot for the credential.
func (c *Client) Usage(ctx context.Context, key string) (*models.UsageSnapshot, error) {
	var snap models.UsageSnapshot
	if err := c.std.Get(ctx, "/token-usage/"+key, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CanMakeRequest checks the ledger before a model request. Unknown
// credentials are allowed; the ledger initializes lazily on mint.
func (c *Client) CanMakeRequest(ctx context.Context, key string) (bool, string) {
	snap, err := c.Usage(ctx, key)
	if err != nil {
		if code, ok := upstream.StatusCode(err); ok && code == http.StatusNotFound {
			return true, ""
		}
		// Usage telemetry must never block the conversation.
		return true, ""
	}
	if snap.IsAtLimit {
		return false, "token_limit_exceeded"
	}
	return true, ""
}
