package models

// Speaker identifies which side of the conversation produced an utterance.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

// WordTiming is a word-level alignment produced by the transcription service.
type WordTiming struct {
	Word     string  `json:"word"`
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
}

// Utterance is one finished capture segment. It is created when a capture
// stops and mutated exactly once by the transcription round-trip that
// attaches WordTimings and FullText.
type Utterance struct {
	ID          string       `json:"id"`
	Speaker     Speaker      `json:"speaker"`
	TimestampMs int64        `json:"timestampMs"`
	Text        string       `json:"text"`
	AudioRef    string       `json:"audioRef,omitempty"`
	Audio       []byte       `json:"-"`
	WordTimings []WordTiming `json:"wordTimings,omitempty"`
	FullText    string       `json:"fullText,omitempty"`
}

// Enriched reports whether the transcription round-trip has completed.
func (u *Utterance) Enriched() bool {
	return u.FullText != ""
}
