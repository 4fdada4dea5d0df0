// Package bubble implements the transcript rendering contract: one active
// bubble per speaker, word-completion tracking, and dedup across redundant
// event paths.
package bubble

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/domain/models"
)

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
)

// MobileCooldown prevents rapid double-creation of bubbles on touch devices
// where press events can fire twice.
const MobileCooldown = 500 * time.Millisecond

// MinWordLength filters out particles and articles from completed-word
// callbacks.
const MinWordLength = 3

// Bubble is one transcript bubble under construction.
type Bubble struct {
	ID          string
	Speaker     models.Speaker
	text        strings.Builder
	words       []string
	emitted     int
	placeholder bool
	finalized   bool
}

// Text returns the accumulated bubble text.
func (b *Bubble) Text() string { return b.text.String() }

// Words returns the appended word spans.
func (b *Bubble) Words() []string { return b.words }

func (b *Bubble) Finalized() bool { return b.finalized }

// Manager owns bubble lifecycle per speaker.
type Manager struct {
	mu             sync.Mutex
	clk            clock.Clock
	newID          func() string
	active         map[models.Speaker]*Bubble
	last           map[models.Speaker]*Bubble
	lastCreatedAt  map[models.Speaker]time.Time
	finalizeTimers map[models.Speaker]*clock.Timer
	seen           map[string]struct{}
}

func NewManager(clk clock.Clock, newID func() string) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		clk:            clk,
		newID:          newID,
		active:         make(map[models.Speaker]*Bubble),
		last:           make(map[models.Speaker]*Bubble),
		lastCreatedAt:  make(map[models.Speaker]time.Time),
		finalizeTimers: make(map[models.Speaker]*clock.Timer),
		seen:           make(map[string]struct{}),
	}
}

// BeginTurn returns the bubble for the speaker's current turn. The most
// recent unfinalized bubble is reused; on mobile, creations within the
// cooldown window return the previous bubble instead of opening a new one.
func (m *Manager) BeginTurn(speaker models.Speaker, device DeviceType) *Bubble {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b := m.active[speaker]; b != nil && !b.finalized {
		return b
	}

	now := m.clk.Now()
	if device == DeviceMobile {
		if prev := m.last[speaker]; prev != nil && now.Sub(m.lastCreatedAt[speaker]) < MobileCooldown {
			return prev
		}
	}

	b := &Bubble{ID: m.newID(), Speaker: speaker, placeholder: true}
	m.active[speaker] = b
	m.last[speaker] = b
	m.lastCreatedAt[speaker] = now
	return b
}

// AppendDelta appends streamed text to the active bubble. For the assistant
// it returns the lexical words (length > 2) completed since the last call.
func (m *Manager) AppendDelta(speaker models.Speaker, text string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.active[speaker]
	if b == nil || b.finalized {
		return nil
	}
	b.text.WriteString(text)
	b.placeholder = false

	if speaker != models.SpeakerAI {
		return nil
	}
	return m.collectCompleted(b, false)
}

// collectCompleted returns unreported lexical words. Unless final is set,
// the trailing token is considered still in progress when the buffer does
// not end in a separator.
func (m *Manager) collectCompleted(b *Bubble, final bool) []string {
	text := b.text.String()
	tokens := lexicalWords(text)
	complete := len(tokens)
	if !final && len(text) > 0 && !endsWithSeparator(text) && complete > 0 {
		complete--
	}

	if complete <= b.emitted {
		return nil
	}
	out := make([]string, 0, complete-b.emitted)
	for _, w := range tokens[b.emitted:complete] {
		out = append(out, w)
	}
	b.emitted = complete
	return out
}

// AppendWord clears any placeholder and appends a word span.
func (m *Manager) AppendWord(speaker models.Speaker, word string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.active[speaker]
	if b == nil || b.finalized {
		return
	}
	b.placeholder = false
	b.words = append(b.words, word)
}

// ScheduleFinalize finalizes the speaker's bubble after delay. A newer
// schedule replaces a pending one.
func (m *Manager) ScheduleFinalize(speaker models.Speaker, delay time.Duration, onFinalize func(leftover []string)) {
	m.mu.Lock()
	if t := m.finalizeTimers[speaker]; t != nil {
		t.Stop()
	}
	m.finalizeTimers[speaker] = m.clk.AfterFunc(delay, func() {
		leftover := m.Finalize(speaker)
		if onFinalize != nil {
			onFinalize(leftover)
		}
	})
	m.mu.Unlock()
}

// Finalize closes the speaker's active bubble and returns the lexical words
// never reported through AppendDelta.
func (m *Manager) Finalize(speaker models.Speaker) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t := m.finalizeTimers[speaker]; t != nil {
		t.Stop()
		delete(m.finalizeTimers, speaker)
	}

	b := m.active[speaker]
	if b == nil || b.finalized {
		return nil
	}
	leftover := m.collectCompleted(b, true)
	b.finalized = true
	delete(m.active, speaker)
	return leftover
}

const dedupPrefixLen = 30

// ShouldProcessUtterance reports whether the record is new across all dedup
// keys: (speaker, id), (device, speaker, id), and (speaker, text prefix).
func (m *Manager) ShouldProcessUtterance(record models.Utterance, device DeviceType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := []string{
		string(record.Speaker) + "|" + record.ID,
		string(device) + "|" + string(record.Speaker) + "|" + record.ID,
	}
	if record.Text != "" {
		keys = append(keys, string(record.Speaker)+"|"+textPrefix(record.Text))
	}

	for _, k := range keys {
		if _, dup := m.seen[k]; dup {
			return false
		}
	}
	for _, k := range keys {
		m.seen[k] = struct{}{}
	}
	return true
}

func textPrefix(s string) string {
	runes := []rune(s)
	if len(runes) > dedupPrefixLen {
		runes = runes[:dedupPrefixLen]
	}
	return string(runes)
}

// lexicalWords splits text into words of at least MinWordLength letters,
// stripped of punctuation.
func lexicalWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= MinWordLength {
			out = append(out, f)
		}
	}
	return out
}

func endsWithSeparator(text string) bool {
	r := []rune(text)
	last := r[len(r)-1]
	return unicode.IsSpace(last) || unicode.IsPunct(last)
}
