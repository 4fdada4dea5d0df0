// Package events models the realtime data-channel protocol as a closed set
// of typed variants. Unknown kinds survive parsing so the UI layer can still
// observe them.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tinge-app/tinge/internal/domain/models"
)

// Incoming event kinds consumed by the router.
const (
	KindAudioTranscriptDelta = "response.audio_transcript.delta"
	KindAudioTranscriptDone  = "response.audio_transcript.done"
	KindTextDelta            = "response.text.delta"
	KindTextDone             = "response.text.done"
	KindAudioBufferStarted   = "output_audio_buffer.started"
	KindAudioBufferStopped   = "output_audio_buffer.stopped"
	KindUserTranscription    = "conversation.item.input_audio_transcription.completed"
	KindFunctionCallDone     = "response.function_call_arguments.done"
	KindResponseDone         = "response.done"
	KindSessionUpdated       = "session.updated"
)

// Event is one parsed data-channel frame.
type Event interface {
	Kind() string
	// Timestamp is the local receive time in milliseconds.
	Timestamp() int64
}

type base struct {
	kind        string
	timestampMs int64
}

func (b base) Kind() string     { return b.kind }
func (b base) Timestamp() int64 { return b.timestampMs }

// AudioTranscriptDelta is one streamed fragment of the assistant transcript.
type AudioTranscriptDelta struct {
	base
	Delta      string
	ResponseID string
}

// AudioTranscriptDone carries the trimmed full assistant transcript.
type AudioTranscriptDone struct {
	base
	Transcript string
	Speaker    models.Speaker
}

// TextDelta is a text-modality streaming fragment.
type TextDelta struct {
	base
	Delta string
}

// TextDone closes a text-modality response.
type TextDone struct {
	base
	Text string
}

// AudioBufferStarted marks the beginning of assistant audio playout.
type AudioBufferStarted struct {
	base
}

// AudioBufferStopped marks the end of assistant audio playout.
type AudioBufferStopped struct {
	base
}

// UserTranscription is the upstream transcription of the user's last turn.
type UserTranscription struct {
	base
	ItemID     string
	Transcript string
}

// FunctionCallDone is a completed tool invocation request from the model.
type FunctionCallDone struct {
	base
	Name      string
	CallID    string
	Arguments string
}

// ResponseDone closes a response cycle, optionally carrying usage totals.
type ResponseDone struct {
	base
	Usage *models.UsageReport
}

// SessionUpdated acknowledges a session.update, optionally carrying usage.
type SessionUpdated struct {
	base
	Usage *models.UsageReport
}

// Unknown is an event kind outside the consumed set. It is passed through to
// the UI layer untouched.
type Unknown struct {
	base
	Raw json.RawMessage
}

type wireEvent struct {
	Type        string        `json:"type"`
	TimestampMs int64         `json:"timestamp,omitempty"`
	Delta       string        `json:"delta,omitempty"`
	Transcript  string        `json:"transcript,omitempty"`
	Text        string        `json:"text,omitempty"`
	ItemID      string        `json:"item_id,omitempty"`
	Name        string        `json:"name,omitempty"`
	CallID      string        `json:"call_id,omitempty"`
	Arguments   string        `json:"arguments,omitempty"`
	Response    *wireResponse `json:"response,omitempty"`
	Session     *wireSession  `json:"session,omitempty"`
	ResponseID  string        `json:"response_id,omitempty"`
}

type wireResponse struct {
	Usage *models.UsageReport `json:"usage,omitempty"`
}

type wireSession struct {
	Usage *models.UsageReport `json:"usage,omitempty"`
}

// Parse decodes one JSON frame into its typed variant. A missing timestamp
// is assigned from the local clock.
func Parse(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse event frame: %w", err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("event frame missing type")
	}

	ts := w.TimestampMs
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	b := base{kind: w.Type, timestampMs: ts}

	switch w.Type {
	case KindAudioTranscriptDelta:
		return &AudioTranscriptDelta{base: b, Delta: w.Delta, ResponseID: w.ResponseID}, nil
	case KindAudioTranscriptDone:
		return &AudioTranscriptDone{base: b, Transcript: strings.TrimSpace(w.Transcript), Speaker: models.SpeakerAI}, nil
	case KindTextDelta:
		return &TextDelta{base: b, Delta: w.Delta}, nil
	case KindTextDone:
		return &TextDone{base: b, Text: w.Text}, nil
	case KindAudioBufferStarted:
		return &AudioBufferStarted{base: b}, nil
	case KindAudioBufferStopped:
		return &AudioBufferStopped{base: b}, nil
	case KindUserTranscription:
		return &UserTranscription{base: b, ItemID: w.ItemID, Transcript: w.Transcript}, nil
	case KindFunctionCallDone:
		return &FunctionCallDone{base: b, Name: w.Name, CallID: w.CallID, Arguments: w.Arguments}, nil
	case KindResponseDone:
		var usage *models.UsageReport
		if w.Response != nil {
			usage = w.Response.Usage
		}
		return &ResponseDone{base: b, Usage: usage}, nil
	case KindSessionUpdated:
		var usage *models.UsageReport
		if w.Session != nil {
			usage = w.Session.Usage
		}
		return &SessionUpdated{base: b, Usage: usage}, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return &Unknown{base: b, Raw: raw}, nil
	}
}
