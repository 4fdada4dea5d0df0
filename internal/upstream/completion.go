package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tinge-app/tinge/internal/adapters/retry"
	"github.com/tinge-app/tinge/internal/metrics"
)

// ErrVerifyTimeout marks a correction verification that exceeded its deadline.
var ErrVerifyTimeout = errors.New("correction verification timed out")

// VerifyRequest describes a detected correction to validate.
type VerifyRequest struct {
	Original            string
	Corrected           string
	CorrectionType      string
	LearnerLevel        string
	ConversationContext string
}

// Verdict is the parsed verification result.
type Verdict struct {
	Mistake     string  `json:"mistake"`
	Correction  string  `json:"correction"`
	Rule        string  `json:"rule"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	IsAmbiguous bool    `json:"is_ambiguous"`
	Model       string  `json:"model"`
	VerifiedAt  string  `json:"verified_at"`
}

// Verifier validates detected corrections against a completion model using a
// strict JSON schema response format. Not retried: a verification is only
// useful while the conversation is still near the mistake.
type Verifier struct {
	client  *Client
	model   string
	timeout time.Duration
}

// NewVerifier builds a verifier on top of an existing model-service client.
func NewVerifier(baseURL, apiKey, model string, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Verifier{
		client:  NewClient(baseURL, apiKey, "verify").WithRetryConfig(retry.NoRetry()).WithTimeout(timeout),
		model:   model,
		timeout: timeout,
	}
}

const verifySystemPrompt = `You are a language-teaching assistant that validates grammar and vocabulary corrections. Given a learner's original phrase and a proposed correction, judge whether the correction is right, name the rule it applies, and rate your confidence from 0 to 1. Answer in the requested JSON shape only.`

var verifySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"mistake":      map[string]any{"type": "string"},
		"correction":   map[string]any{"type": "string"},
		"rule":         map[string]any{"type": "string"},
		"category":     map[string]any{"type": "string"},
		"confidence":   map[string]any{"type": "number"},
		"is_ambiguous": map[string]any{"type": "boolean"},
	},
	"required":             []string{"mistake", "correction", "rule", "category", "confidence"},
	"additionalProperties": false,
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Verify runs the verification completion and normalizes the verdict:
// confidence clamps to [0,1] and a missing is_ambiguous defaults to
// confidence < 0.6. A deadline hit returns ErrVerifyTimeout; upstream error
// statuses surface as *StatusError.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*Verdict, error) {
	userPrompt := fmt.Sprintf("Original: %q\nProposed correction: %q\nCorrection type: %s", req.Original, req.Corrected, req.CorrectionType)
	if req.LearnerLevel != "" {
		userPrompt += "\nLearner level: " + req.LearnerLevel
	}
	if req.ConversationContext != "" {
		userPrompt += "\nConversation context: " + req.ConversationContext
	}

	payload := map[string]any{
		"model": v.model,
		"messages": []map[string]string{
			{"role": "system", "content": verifySystemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "correction_verdict",
				"strict": true,
				"schema": verifySchema,
			},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var resp chatCompletionResponse
	if err := v.client.PostJSON(ctx, "/chat/completions", payload, &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.VerificationsTotal.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: %v", ErrVerifyTimeout, err)
		}
		metrics.VerificationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(resp.Choices) == 0 {
		metrics.VerificationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("verification response had no choices")
	}

	var verdict struct {
		Mistake     string  `json:"mistake"`
		Correction  string  `json:"correction"`
		Rule        string  `json:"rule"`
		Category    string  `json:"category"`
		Confidence  float64 `json:"confidence"`
		IsAmbiguous *bool   `json:"is_ambiguous"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &verdict); err != nil {
		metrics.VerificationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to parse verdict: %w", err)
	}

	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	ambiguous := confidence < 0.6
	if verdict.IsAmbiguous != nil {
		ambiguous = *verdict.IsAmbiguous
	}

	metrics.VerificationsTotal.WithLabelValues("ok").Inc()
	return &Verdict{
		Mistake:     verdict.Mistake,
		Correction:  verdict.Correction,
		Rule:        verdict.Rule,
		Category:    verdict.Category,
		Confidence:  confidence,
		IsAmbiguous: ambiguous,
		Model:       resp.Model,
		VerifiedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}
