// Package ports defines the interfaces between the gateway/engine and their
// collaborators.
package ports

import (
	"context"
	"encoding/json"

	"github.com/tinge-app/tinge/internal/upstream"
)

// SessionMinter requests ephemeral realtime credentials.
type SessionMinter interface {
	MintRealtimeSession(ctx context.Context, model, voice string) (*upstream.RealtimeSession, error)
}

// Transcriber converts recorded audio into text with word timings.
type Transcriber interface {
	Transcribe(ctx context.Context, model, fileName string, audio []byte) (*upstream.Transcription, error)
}

// KnowledgeSearcher proxies retrieval queries to the knowledge service.
type KnowledgeSearcher interface {
	Search(ctx context.Context, req upstream.SearchRequest) (json.RawMessage, error)
}

// CorrectionVerifier validates a detected correction.
type CorrectionVerifier interface {
	Verify(ctx context.Context, req upstream.VerifyRequest) (*upstream.Verdict, error)
}
