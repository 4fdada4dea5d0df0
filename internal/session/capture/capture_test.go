package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/session/bubble"
)

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	stopped  int
	audio    []byte
	startErr error
	stopErr  error
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeRecorder) Stop(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.audio, f.stopErr
}

type fakeTranscriber struct {
	words []models.WordTiming
	full  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, fileName string, audio []byte) ([]models.WordTiming, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.words, f.full, nil
}

type captured struct {
	utterances []models.Utterance
	words      []string
}

func newTestManager(t *testing.T, user, ai *fakeRecorder, tr *fakeTranscriber) (*Manager, *captured, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	got := &captured{}
	n := 0
	newID := func() string { n++; return "utt_" + string(rune('a'+n-1)) }
	m := NewManager(mock, user, ai, tr, nil, newID, bubble.DeviceDesktop, Events{
		UtteranceAdded: func(u models.Utterance, interrupted bool, device bubble.DeviceType) {
			got.utterances = append(got.utterances, u)
		},
		TranscriptWord: func(speaker models.Speaker, word string) {
			got.words = append(got.words, word)
		},
	})
	return m, got, mock
}

func TestFinalizeAIAttachesWordTimings(t *testing.T) {
	ai := &fakeRecorder{audio: []byte("webm")}
	tr := &fakeTranscriber{
		words: []models.WordTiming{{Word: "hola", StartSec: 0, EndSec: 0.4}},
		full:  "hola",
	}
	m, got, _ := newTestManager(t, &fakeRecorder{}, ai, tr)

	ctx := context.Background()
	if err := m.StartAI(ctx); err != nil {
		t.Fatal(err)
	}
	m.AppendAIDelta("hola", 100)

	u, err := m.FinalizeAI(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Text != "hola" || u.FullText != "hola" {
		t.Fatalf("utterance = %+v", u)
	}
	if len(u.WordTimings) != 1 || u.WordTimings[0].Word != "hola" {
		t.Errorf("word timings = %+v", u.WordTimings)
	}
	if ai.stopped != 1 {
		t.Errorf("recorder stopped %d times", ai.stopped)
	}
	if len(got.utterances) != 1 || got.utterances[0].Speaker != models.SpeakerAI {
		t.Errorf("emitted = %+v", got.utterances)
	}
}

func TestFinalizeAIKeepsUtteranceOnTranscriptionFailure(t *testing.T) {
	ai := &fakeRecorder{audio: []byte("webm")}
	tr := &fakeTranscriber{err: errors.New("upstream down")}
	m, got, _ := newTestManager(t, &fakeRecorder{}, ai, tr)

	ctx := context.Background()
	m.StartAI(ctx)
	m.AppendAIDelta("hasta luego", 50)

	u, err := m.FinalizeAI(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if u.FullText != "hasta luego" {
		t.Errorf("fullText = %q, want streamed text fallback", u.FullText)
	}
	if u.WordTimings == nil || len(u.WordTimings) != 0 {
		t.Errorf("wordTimings = %#v, want empty non-nil", u.WordTimings)
	}
	if len(got.utterances) != 1 {
		t.Errorf("utterance still expected despite failure, got %d", len(got.utterances))
	}
}

func TestFinalizeAIWithoutCaptureIsNoop(t *testing.T) {
	m, got, _ := newTestManager(t, &fakeRecorder{}, &fakeRecorder{}, &fakeTranscriber{})
	u, err := m.FinalizeAI(context.Background(), false)
	if err != nil || u != nil {
		t.Fatalf("u=%v err=%v", u, err)
	}
	if len(got.utterances) != 0 {
		t.Errorf("no utterance expected")
	}
}

func TestRecorderReleasedEvenWhenStopFails(t *testing.T) {
	ai := &fakeRecorder{audio: nil, stopErr: errors.New("device gone")}
	m, got, _ := newTestManager(t, &fakeRecorder{}, ai, &fakeTranscriber{})

	ctx := context.Background()
	m.StartAI(ctx)
	m.AppendAIDelta("adios", 10)
	u, err := m.FinalizeAI(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if m.AIRecording() {
		t.Error("capture still marked recording after failed stop")
	}
	if u.Text != "adios" || len(got.utterances) != 1 {
		t.Errorf("utterance = %+v", u)
	}
}

func TestUserTranscriptionEmitsWordsAndEnriches(t *testing.T) {
	user := &fakeRecorder{audio: []byte("ogg")}
	tr := &fakeTranscriber{
		words: []models.WordTiming{{Word: "quiero"}, {Word: "cafe"}},
		full:  "quiero cafe",
	}
	m, got, _ := newTestManager(t, user, &fakeRecorder{}, tr)

	ctx := context.Background()
	m.StartUser(ctx)
	u := m.HandleUserTranscription(ctx, "item_1", "  quiero cafe  ")
	if u == nil {
		t.Fatal("expected enriched utterance")
	}
	if u.Text != "quiero cafe" {
		t.Errorf("text = %q, want trimmed", u.Text)
	}
	if len(u.WordTimings) != 2 {
		t.Errorf("word timings = %+v", u.WordTimings)
	}
	if len(got.words) != 2 || got.words[0] != "quiero" || got.words[1] != "cafe" {
		t.Errorf("word events = %v", got.words)
	}
	if user.stopped != 1 {
		t.Errorf("user recorder stopped %d times", user.stopped)
	}
}

func TestUserTranscriptionIdempotentByItemID(t *testing.T) {
	m, got, _ := newTestManager(t, &fakeRecorder{}, &fakeRecorder{}, &fakeTranscriber{})

	ctx := context.Background()
	if m.HandleUserTranscription(ctx, "item_1", "hola") == nil {
		t.Fatal("first delivery should enrich")
	}
	if m.HandleUserTranscription(ctx, "item_1", "hola") != nil {
		t.Error("second delivery for same item should be a no-op")
	}
	if len(got.utterances) != 1 {
		t.Errorf("utterances = %d", len(got.utterances))
	}
}

func TestUserTranscriptionContentDedupWindow(t *testing.T) {
	m, got, mock := newTestManager(t, &fakeRecorder{}, &fakeRecorder{}, &fakeTranscriber{})

	ctx := context.Background()
	m.HandleUserTranscription(ctx, "item_1", "buenos dias")
	if m.HandleUserTranscription(ctx, "item_2", "buenos dias") != nil {
		t.Error("same content under a different id within the window should dedupe")
	}

	mock.Add(2 * time.Second)
	if m.HandleUserTranscription(ctx, "item_3", "buenos dias") == nil {
		t.Error("same content outside the window is a new utterance")
	}
	if len(got.utterances) != 2 {
		t.Errorf("utterances = %d", len(got.utterances))
	}
}

func TestEmptyTranscriptIgnored(t *testing.T) {
	m, got, _ := newTestManager(t, &fakeRecorder{}, &fakeRecorder{}, &fakeTranscriber{})
	if m.HandleUserTranscription(context.Background(), "item_1", "   ") != nil {
		t.Error("blank transcript should be dropped")
	}
	if len(got.utterances) != 0 || len(got.words) != 0 {
		t.Errorf("no emissions expected")
	}
}
