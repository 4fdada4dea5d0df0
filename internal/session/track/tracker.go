// Package track accumulates client-side token usage and forwards it to the
// gateway ledger.
package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/tinge-app/tinge/internal/domain/models"
)

// FlushDebounce is the trailing window that batches estimate posts while
// transcript deltas stream in at word rate.
const FlushDebounce = 200 * time.Millisecond

const flushTimeout = 5 * time.Second

// UsageSink is where estimates and actuals are reported.
type UsageSink interface {
	PostEstimate(ctx context.Context, key, text string, audioDuration float64) (*models.UsageSnapshot, error)
	PostActual(ctx context.Context, key string, report models.UsageReport) (*models.UsageSnapshot, error)
}

// Tracker buffers text and audio accumulators behind a single debounced
// emitter. All reporting failures are logged and swallowed; the session
// must keep working without usage telemetry.
type Tracker struct {
	mu        sync.Mutex
	key       string
	text      string
	audioSecs float64

	sink       UsageSink
	debounced  func(func())
	onSnapshot func(models.UsageSnapshot)
}

// NewTracker creates a tracker for one credential. onSnapshot, when set,
// receives every ledger snapshot the gateway returns.
func NewTracker(key string, sink UsageSink, onSnapshot func(models.UsageSnapshot)) *Tracker {
	return &Tracker{
		key:        key,
		sink:       sink,
		debounced:  debounce.New(FlushDebounce),
		onSnapshot: onSnapshot,
	}
}

// AddText buffers transcript text for the next estimate flush.
func (t *Tracker) AddText(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	if t.text != "" {
		t.text += " "
	}
	t.text += text
	t.mu.Unlock()
	t.debounced(t.flush)
}

// AddAudio buffers recorded audio duration for the next estimate flush.
func (t *Tracker) AddAudio(seconds float64) {
	if seconds <= 0 {
		return
	}
	t.mu.Lock()
	t.audioSecs += seconds
	t.mu.Unlock()
	t.debounced(t.flush)
}

func (t *Tracker) flush() {
	t.mu.Lock()
	text := t.text
	audio := t.audioSecs
	key := t.key
	t.mu.Unlock()

	if text == "" && audio == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	snap, err := t.sink.PostEstimate(ctx, key, text, audio)
	if err != nil {
		slog.Warn("track: estimate post failed", "error", err)
		return
	}

	// Clear only what was sent; deltas may have arrived mid-flight.
	t.mu.Lock()
	t.text = t.text[min(len(text), len(t.text)):]
	if len(t.text) > 0 && t.text[0] == ' ' {
		t.text = t.text[1:]
	}
	t.audioSecs -= audio
	if t.audioSecs < 0 {
		t.audioSecs = 0
	}
	t.mu.Unlock()

	if t.onSnapshot != nil && snap != nil {
		t.onSnapshot(*snap)
	}
}

// UpdateActual posts an upstream usage report immediately, outside the
// debounce window.
func (t *Tracker) UpdateActual(report models.UsageReport) {
	t.mu.Lock()
	key := t.key
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	snap, err := t.sink.PostActual(ctx, key, report)
	if err != nil {
		slog.Warn("track: actual post failed", "error", err)
		return
	}
	if t.onSnapshot != nil && snap != nil {
		t.onSnapshot(*snap)
	}
}

// Reset drops any buffered accumulators. A pending debounce fires into
// empty buffers and becomes a no-op.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.text = ""
	t.audioSecs = 0
	t.mu.Unlock()
}

// SetCredential repoints the tracker after a reconnect.
func (t *Tracker) SetCredential(key string) {
	t.mu.Lock()
	t.key = key
	t.text = ""
	t.audioSecs = 0
	t.mu.Unlock()
}
