package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/metrics"
)

// Transcription is the verbose transcription result with word-level timings.
type Transcription struct {
	Text     string              `json:"text"`
	Words    []models.WordTiming `json:"words"`
	Duration float64             `json:"duration"`
}

// Transcribe forwards recorded audio to the transcription endpoint and
// returns the text together with per-word timings.
func (c *Client) Transcribe(ctx context.Context, model, fileName string, audio []byte) (*Transcription, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	if fileName == "" {
		fileName = "audio.webm"
	}

	fields := map[string]string{
		"model":                     model,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
	}

	start := time.Now()
	var result Transcription
	err := c.PostMultipart(ctx, "/audio/transcriptions", fields, "file", fileName, audio, &result)
	metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	return &result, nil
}
