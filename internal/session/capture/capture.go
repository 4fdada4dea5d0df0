// Package capture owns the user and assistant recording contexts and binds
// word-level timings from the transcription service to finished utterances.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/session/bubble"
	"github.com/tinge-app/tinge/internal/session/queue"
)

// Recorder is a scoped acquisition of a recording resource. Stop must
// release the resource even when it fails.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) ([]byte, error)
}

// Transcriber runs the gateway transcription round-trip.
type Transcriber interface {
	Transcribe(ctx context.Context, fileName string, audio []byte) ([]models.WordTiming, string, error)
}

// Storage persists finished utterances. The collaborator is external; a nil
// storage disables persistence.
type Storage interface {
	Persist(ctx context.Context, u models.Utterance) error
}

// Events fan out capture results to the UI layer.
type Events struct {
	UtteranceAdded func(u models.Utterance, interrupted bool, device bubble.DeviceType)
	TranscriptWord func(speaker models.Speaker, word string)
}

// WordOffset pairs a streamed delta with its offset from capture start.
type WordOffset struct {
	Word     string
	OffsetMs int64
}

type aiState struct {
	recording   bool
	startTimeMs int64
	transcript  strings.Builder
	offsets     []WordOffset
}

// Manager coordinates both capture contexts.
type Manager struct {
	mu  sync.Mutex
	clk clock.Clock

	userRecorder Recorder
	aiRecorder   Recorder
	transcriber  Transcriber
	storage      Storage
	events       Events
	newID        func() string
	device       bubble.DeviceType

	ai            aiState
	userRecording bool

	enrichedItems map[string]bool
	contentSeen   map[string]int64

	wordQueue *queue.Queue[queuedWord]
}

type queuedWord struct {
	speaker models.Speaker
	word    string
}

func NewManager(clk clock.Clock, userRecorder, aiRecorder Recorder, transcriber Transcriber, storage Storage, newID func() string, device bubble.DeviceType, events Events) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		clk:           clk,
		userRecorder:  userRecorder,
		aiRecorder:    aiRecorder,
		transcriber:   transcriber,
		storage:       storage,
		events:        events,
		newID:         newID,
		device:        device,
		enrichedItems: make(map[string]bool),
		contentSeen:   make(map[string]int64),
	}
	m.wordQueue = queue.New(func(w queuedWord) error {
		if m.events.TranscriptWord != nil {
			m.events.TranscriptWord(w.speaker, w.word)
		}
		return nil
	}, func(w queuedWord, err error) {
		slog.Warn("capture: word emit failed", "word", w.word, "error", err)
	})
	return m
}

// AIRecording reports whether the assistant capture is running.
func (m *Manager) AIRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ai.recording
}

// StartAI begins the assistant capture if it is not already running.
func (m *Manager) StartAI(ctx context.Context) error {
	m.mu.Lock()
	if m.ai.recording {
		m.mu.Unlock()
		return nil
	}
	m.ai.recording = true
	m.ai.startTimeMs = m.clk.Now().UnixMilli()
	m.mu.Unlock()

	if err := m.aiRecorder.Start(ctx); err != nil {
		m.mu.Lock()
		m.ai.recording = false
		m.mu.Unlock()
		return fmt.Errorf("failed to start assistant capture: %w", err)
	}
	return nil
}

// AppendAIDelta accumulates a streamed transcript fragment with its offset
// from capture start.
func (m *Manager) AppendAIDelta(delta string, timestampMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ai.recording {
		return
	}
	m.ai.transcript.WriteString(delta)
	m.ai.offsets = append(m.ai.offsets, WordOffset{Word: delta, OffsetMs: timestampMs - m.ai.startTimeMs})
}

// AITranscript returns the transcript accumulated so far.
func (m *Manager) AITranscript() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ai.transcript.String()
}

// FinalizeAI stops the assistant capture, runs the transcription
// round-trip, and emits the finished utterance. A transcription failure
// keeps the utterance with the streamed text and no word timings.
func (m *Manager) FinalizeAI(ctx context.Context, interrupted bool) (*models.Utterance, error) {
	m.mu.Lock()
	if !m.ai.recording {
		m.mu.Unlock()
		return nil, nil
	}
	m.ai.recording = false
	text := strings.TrimSpace(m.ai.transcript.String())
	startMs := m.ai.startTimeMs
	m.ai.transcript.Reset()
	m.ai.offsets = nil
	m.mu.Unlock()

	audio, err := m.aiRecorder.Stop(ctx)
	if err != nil {
		slog.Warn("capture: assistant recorder stop failed", "error", err)
	}

	u := models.Utterance{
		ID:          m.newID(),
		Speaker:     models.SpeakerAI,
		TimestampMs: startMs,
		Text:        text,
		Audio:       audio,
		FullText:    text,
	}

	if len(audio) > 0 {
		words, fullText, terr := m.transcriber.Transcribe(ctx, "assistant.webm", audio)
		if terr != nil {
			slog.Warn("capture: assistant transcription failed", "error", terr)
			u.WordTimings = []models.WordTiming{}
		} else {
			u.WordTimings = words
			if fullText != "" {
				u.FullText = fullText
			}
		}
	}

	m.persist(ctx, u)
	if m.events.UtteranceAdded != nil {
		m.events.UtteranceAdded(u, interrupted, m.device)
	}
	return &u, nil
}

// StartUser begins the user capture.
func (m *Manager) StartUser(ctx context.Context) error {
	m.mu.Lock()
	if m.userRecording {
		m.mu.Unlock()
		return nil
	}
	m.userRecording = true
	m.mu.Unlock()

	if err := m.userRecorder.Start(ctx); err != nil {
		m.mu.Lock()
		m.userRecording = false
		m.mu.Unlock()
		return fmt.Errorf("failed to start user capture: %w", err)
	}
	return nil
}

// StopUser stops the user capture and returns the recorded payload.
func (m *Manager) StopUser(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	if !m.userRecording {
		m.mu.Unlock()
		return nil, nil
	}
	m.userRecording = false
	m.mu.Unlock()

	return m.userRecorder.Stop(ctx)
}

const enrichPrefixLen = 20

// HandleUserTranscription processes an upstream user transcription event:
// per-word render events, then enrichment of the user utterance. Repeated
// deliveries for the same item are no-ops.
func (m *Manager) HandleUserTranscription(ctx context.Context, itemID, transcript string) *models.Utterance {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	if itemID != "" && m.enrichedItems[itemID] {
		m.mu.Unlock()
		return nil
	}
	contentKey := string(m.device) + "|user|" + prefix(text, enrichPrefixLen)
	nowMs := m.clk.Now().UnixMilli()
	if last, ok := m.contentSeen[contentKey]; ok && nowMs-last < 1000 {
		m.mu.Unlock()
		return nil
	}
	m.contentSeen[contentKey] = nowMs
	if itemID != "" {
		m.enrichedItems[itemID] = true
	}
	m.mu.Unlock()

	for _, w := range strings.Fields(text) {
		m.wordQueue.Enqueue(queuedWord{speaker: models.SpeakerUser, word: w})
	}

	audio, err := m.StopUser(ctx)
	if err != nil {
		slog.Warn("capture: user recorder stop failed", "error", err)
	}

	u := models.Utterance{
		ID:          m.newID(),
		Speaker:     models.SpeakerUser,
		TimestampMs: nowMs,
		Text:        text,
		Audio:       audio,
		FullText:    text,
	}

	if len(audio) > 0 {
		words, fullText, terr := m.transcriber.Transcribe(ctx, "user.webm", audio)
		if terr != nil {
			slog.Warn("capture: user transcription failed", "error", terr)
			u.WordTimings = []models.WordTiming{}
		} else {
			u.WordTimings = words
			if fullText != "" {
				u.FullText = fullText
			}
		}
	}

	m.persist(ctx, u)
	if m.events.UtteranceAdded != nil {
		m.events.UtteranceAdded(u, false, m.device)
	}
	return &u
}

func (m *Manager) persist(ctx context.Context, u models.Utterance) {
	if m.storage == nil {
		return
	}
	if err := m.storage.Persist(ctx, u); err != nil {
		slog.Warn("capture: persist failed", "utterance", u.ID, "error", err)
	}
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
