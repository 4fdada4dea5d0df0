package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/session/bubble"
	"github.com/tinge-app/tinge/internal/session/transport"
)

type fakeChannel struct {
	mu        sync.Mutex
	cb        transport.Callbacks
	sent      [][]byte
	connected bool
	mic       bool
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	if f.cb.OnChannelOpen != nil {
		f.cb.OnChannelOpen(f.Send)
	}
	return nil
}

func (f *fakeChannel) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeChannel) WaitForDataChannelOpen(timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) SetMicEnabled(enabled bool) {
	f.mu.Lock()
	f.mic = enabled
	f.mu.Unlock()
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, frame := range f.sent {
		var m struct {
			Type string `json:"type"`
		}
		json.Unmarshal(frame, &m)
		out = append(out, m.Type)
	}
	return out
}

// testGateway serves the minimal gateway surface the engine touches.
func testGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "sess_1",
			"client_secret": map[string]any{"value": "ek_test"},
			"tokenUsage":    map[string]any{"limit": 15000},
		})
	})
	mux.HandleFunc("GET /token-usage/ek_test", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"limit": 15000, "isAtLimit": false})
	})
	mux.HandleFunc("POST /token-usage/ek_test/estimate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"limit": 15000, "estimatedTokens": 9})
	})
	mux.HandleFunc("POST /token-usage/ek_test/actual", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UsageData models.UsageReport `json:"usageData"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"limit": 15000, "actualTokens": body.UsageData.TotalTokens})
	})
	mux.HandleFunc("POST /transcribe", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"words":    []map[string]any{{"word": "hola", "start": 0, "end": 0.4}},
			"fullText": "hola",
		})
	})
	return httptest.NewServer(mux)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

type uiRecorder struct {
	mu          sync.Mutex
	streaming   []string
	finals      []string
	utterances  []models.Utterance
	interrupted int
	usage       []models.UsageSnapshot
	labels      []string
}

func newTestEngine(t *testing.T, srvURL string) (*Engine, *fakeChannel, *uiRecorder) {
	t.Helper()
	ch := &fakeChannel{}
	rec := &uiRecorder{}
	ui := UIEvents{
		StreamingTranscript: func(speaker models.Speaker, text string) {
			rec.mu.Lock()
			rec.streaming = append(rec.streaming, text)
			rec.mu.Unlock()
		},
		FinalTranscript: func(speaker models.Speaker, text string) {
			rec.mu.Lock()
			rec.finals = append(rec.finals, text)
			rec.mu.Unlock()
		},
		UtteranceAdded: func(u models.Utterance, interrupted bool) {
			rec.mu.Lock()
			rec.utterances = append(rec.utterances, u)
			rec.mu.Unlock()
		},
		AssistantInterrupted: func() {
			rec.mu.Lock()
			rec.interrupted++
			rec.mu.Unlock()
		},
		UsageUpdated: func(s models.UsageSnapshot) {
			rec.mu.Lock()
			rec.usage = append(rec.usage, s)
			rec.mu.Unlock()
		},
		SetLabel: func(label string) {
			rec.mu.Lock()
			rec.labels = append(rec.labels, label)
			rec.mu.Unlock()
		},
	}
	e := NewEngine(Config{
		GatewayURL:         srvURL,
		SystemPrompt:       "Eres una tutora de español.",
		TranscriptionModel: "whisper-1",
		Device:             bubble.DeviceDesktop,
	}, ui, Options{
		NewChannel: func(key string, cb transport.Callbacks) transport.Channel {
			ch.cb = cb
			return ch
		},
	})
	return e, ch, rec
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestFirstPressConnectsAndBootstraps(t *testing.T) {
	srv := testGateway(t)
	defer srv.Close()
	e, ch, rec := newTestEngine(t, srv.URL)
	defer e.Close()

	ctx := context.Background()
	e.Press(ctx)

	types := ch.sentTypes()
	if len(types) != 2 || types[0] != "conversation.item.create" || types[1] != "session.update" {
		t.Fatalf("bootstrap frames = %v", types)
	}

	ch.mu.Lock()
	mic := ch.mic
	ch.mu.Unlock()
	if mic {
		t.Error("first press must not enable the mic")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.usage) == 0 || rec.usage[0].Limit != 15000 {
		t.Errorf("usage snapshot from mint = %+v", rec.usage)
	}
	if len(rec.labels) == 0 || rec.labels[0] != "Connecting…" {
		t.Errorf("labels = %v", rec.labels)
	}
}

func TestSecondPressEnablesMic(t *testing.T) {
	srv := testGateway(t)
	defer srv.Close()
	e, ch, _ := newTestEngine(t, srv.URL)
	defer e.Close()

	ctx := context.Background()
	e.Press(ctx)
	e.Press(ctx)

	ch.mu.Lock()
	mic := ch.mic
	ch.mu.Unlock()
	if !mic {
		t.Error("second press should enable the mic")
	}
}

func TestAssistantTurnFlow(t *testing.T) {
	srv := testGateway(t)
	defer srv.Close()
	e, _, rec := newTestEngine(t, srv.URL)
	defer e.Close()

	e.HandleFrame(frame(t, map[string]any{"type": "output_audio_buffer.started"}))
	e.HandleFrame(frame(t, map[string]any{"type": "response.audio_transcript.delta", "delta": "Hola, "}))
	e.HandleFrame(frame(t, map[string]any{"type": "response.audio_transcript.delta", "delta": "bienvenida."}))
	e.HandleFrame(frame(t, map[string]any{"type": "response.audio_transcript.done", "transcript": "Hola, bienvenida."}))
	e.HandleFrame(frame(t, map[string]any{"type": "output_audio_buffer.stopped"}))

	rec.mu.Lock()
	streams := len(rec.streaming)
	finals := append([]string(nil), rec.finals...)
	rec.mu.Unlock()
	if streams != 2 {
		t.Errorf("streaming updates = %d", streams)
	}
	if len(finals) != 1 || finals[0] != "Hola, bienvenida." {
		t.Errorf("finals = %v", finals)
	}

	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.utterances) == 1
	}, "assistant utterance never committed")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.utterances[0].Speaker != models.SpeakerAI || rec.utterances[0].Text != "Hola, bienvenida." {
		t.Errorf("utterance = %+v", rec.utterances[0])
	}
}

func TestBargeInSuppressesStaleDeltas(t *testing.T) {
	srv := testGateway(t)
	defer srv.Close()
	e, _, rec := newTestEngine(t, srv.URL)
	defer e.Close()

	ctx := context.Background()
	e.Press(ctx) // connect only

	e.HandleFrame(frame(t, map[string]any{"type": "response.audio_transcript.delta", "delta": "La capital"}))

	e.Press(ctx) // barge-in while assistant speaks

	rec.mu.Lock()
	interrupted := rec.interrupted
	before := len(rec.streaming)
	rec.mu.Unlock()
	if interrupted != 1 {
		t.Fatalf("interrupted events = %d", interrupted)
	}

	e.HandleFrame(frame(t, map[string]any{"type": "response.audio_transcript.delta", "delta": " de Francia"}))

	rec.mu.Lock()
	after := len(rec.streaming)
	rec.mu.Unlock()
	if after != before {
		t.Error("stale delta reached the UI after barge-in")
	}
}

func TestUnknownToolCallRepliesThroughChannel(t *testing.T) {
	srv := testGateway(t)
	defer srv.Close()
	e, ch, _ := newTestEngine(t, srv.URL)
	defer e.Close()

	e.Press(context.Background())
	e.HandleFrame(frame(t, map[string]any{
		"type":    "response.function_call_arguments.done",
		"name":    "fly_to_the_moon",
		"call_id": "call_9",
	}))

	waitFor(t, func() bool {
		types := ch.sentTypes()
		return len(types) == 4 && types[3] == "response.create"
	}, "tool reply frames never sent")

	ch.mu.Lock()
	defer ch.mu.Unlock()
	var reply struct {
		Item struct {
			Type   string `json:"type"`
			Output string `json:"output"`
		} `json:"item"`
	}
	json.Unmarshal(ch.sent[2], &reply)
	if reply.Item.Type != "function_call_output" || reply.Item.Output != `{"error":"Unknown function: fly_to_the_moon"}` {
		t.Errorf("reply = %+v", reply.Item)
	}
}

func TestCloseStopsToolWorker(t *testing.T) {
	srv := testGateway(t)
	defer srv.Close()
	e, ch, _ := newTestEngine(t, srv.URL)

	e.Press(context.Background())
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err) // repeat close is harmless
	}

	// The worker is gone; tool frames arriving after close must neither
	// block the router nor produce replies. Fill past the channel buffer to
	// prove the done signal, not spare capacity, is what unblocks the sends.
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 20; i++ {
			e.HandleFrame(frame(t, map[string]any{
				"type":    "response.function_call_arguments.done",
				"name":    "get_user_profile",
				"call_id": "call_late",
			}))
		}
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("tool frame blocked after close")
	}

	sent := len(ch.sentTypes())
	time.Sleep(50 * time.Millisecond)
	if got := len(ch.sentTypes()); got != sent {
		t.Errorf("frames still being sent after close: %d -> %d", sent, got)
	}
}

func TestResponseDoneForwardsUsage(t *testing.T) {
	srv := testGateway(t)
	defer srv.Close()
	e, _, rec := newTestEngine(t, srv.URL)
	defer e.Close()

	e.Press(context.Background())
	e.HandleFrame(frame(t, map[string]any{
		"type":     "response.done",
		"response": map[string]any{"usage": map[string]any{"total_tokens": 321}},
	}))

	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, s := range rec.usage {
			if s.ActualTokens == 321 {
				return true
			}
		}
		return false
	}, "usage snapshot from response.done never arrived")
}
