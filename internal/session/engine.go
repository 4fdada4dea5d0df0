// Package session wires the realtime conversation engine: transport,
// turn gating, capture, bubbles, citations, tools, corrections and usage
// tracking behind one event loop.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/adapters/id"
	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/session/bubble"
	"github.com/tinge-app/tinge/internal/session/capture"
	"github.com/tinge-app/tinge/internal/session/citation"
	"github.com/tinge-app/tinge/internal/session/client"
	"github.com/tinge-app/tinge/internal/session/correction"
	"github.com/tinge-app/tinge/internal/session/events"
	"github.com/tinge-app/tinge/internal/session/ptt"
	"github.com/tinge-app/tinge/internal/session/tools"
	"github.com/tinge-app/tinge/internal/session/track"
	"github.com/tinge-app/tinge/internal/session/transport"
	"github.com/tinge-app/tinge/internal/session/turn"
)

// Config selects the engine's fixed parameters for one session.
type Config struct {
	GatewayURL         string
	SystemPrompt       string
	TranscriptionModel string
	Device             bubble.DeviceType
	LearnerLevel       string
}

// UIEvents fans engine activity out to the presentation layer. All fields
// may be nil.
type UIEvents struct {
	StreamingTranscript    func(speaker models.Speaker, text string)
	FinalTranscript        func(speaker models.Speaker, text string)
	BubbleWords            func(speaker models.Speaker, words []string)
	BubbleFinalized        func(speaker models.Speaker, leftover []string)
	TranscriptWord         func(speaker models.Speaker, word string)
	UtteranceAdded         func(u models.Utterance, interrupted bool)
	AssistantInterrupted   func()
	SourcesUpdated         func(sources []models.RegisteredSource)
	SearchStarted          func(query string)
	SearchResult           func(status string, resultCount int, durationMs int64)
	CorrectionDetected     func(c models.Correction)
	CorrectionVerification func(correctionID, status string)
	UsageUpdated           func(s models.UsageSnapshot)
	ConnectionState        func(s transport.State)
	SetLabel               func(label string)
	ClearLabel             func()
	ShowLimitOverlay       func()
}

// Options carries the engine's optional collaborators.
type Options struct {
	Clock            clock.Clock
	CitationStore    citation.Store
	ProfileStore     tools.ProfileStore
	UtteranceStorage capture.Storage
	UserRecorder     capture.Recorder
	AIRecorder       capture.Recorder
	// NewChannel builds the transport once a credential is minted. Defaults
	// to the WebRTC peer connection against the upstream realtime endpoint.
	NewChannel func(ephemeralKey string, cb transport.Callbacks) transport.Channel
	// RealtimeURL is the upstream SDP endpoint used by the default channel.
	RealtimeURL string
	// Model is the realtime model requested by the default channel.
	Model string
}

// Engine is the session orchestrator.
type Engine struct {
	cfg Config
	clk clock.Clock
	ui  UIEvents

	gateway    *client.Client
	newChannel func(ephemeralKey string, cb transport.Callbacks) transport.Channel

	machine     *turn.Machine
	bubbles     *bubble.Manager
	captures    *capture.Manager
	citations   *citation.Coordinator
	panel       *citation.Panel
	toolsReg    *tools.Registry
	corrections *correction.Tracker
	tracker     *track.Tracker
	controller  *ptt.Controller

	toolCalls chan events.FunctionCallDone
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	channel    transport.Channel
	credential string
}

func NewEngine(cfg Config, ui UIEvents, opts Options) *Engine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	e := &Engine{
		cfg:     cfg,
		clk:     clk,
		ui:      ui,
		gateway: client.New(cfg.GatewayURL),
	}

	var registry *citation.Registry
	if opts.CitationStore != nil {
		registry = citation.NewPersistentRegistry(opts.CitationStore)
	} else {
		registry = citation.NewRegistry()
	}
	e.panel = citation.NewPanel()
	e.citations = citation.NewCoordinator(registry, e.panel)

	e.machine = turn.New(clk)
	e.bubbles = bubble.NewManager(clk, id.NewBubble)

	e.tracker = track.NewTracker("", e.gateway, func(s models.UsageSnapshot) {
		if ui.UsageUpdated != nil {
			ui.UsageUpdated(s)
		}
	})

	e.corrections = correction.NewTracker(e.gateway, id.NewCorrection, cfg.LearnerLevel, correction.Events{
		Detected: func(c models.Correction) {
			if ui.CorrectionDetected != nil {
				ui.CorrectionDetected(c)
			}
		},
		VerificationStarted: func(cid string) {
			if ui.CorrectionVerification != nil {
				ui.CorrectionVerification(cid, "started")
			}
		},
		VerificationSucceeded: func(c models.Correction) {
			if ui.CorrectionVerification != nil {
				ui.CorrectionVerification(c.ID, "succeeded")
			}
		},
		VerificationFailed: func(cid string, err error) {
			if ui.CorrectionVerification != nil {
				ui.CorrectionVerification(cid, "failed")
			}
		},
	})

	userRec := opts.UserRecorder
	if userRec == nil {
		userRec = noopRecorder{}
	}
	aiRec := opts.AIRecorder
	if aiRec == nil {
		aiRec = noopRecorder{}
	}
	e.captures = capture.NewManager(clk, userRec, aiRec, e.gateway, opts.UtteranceStorage, id.NewUtterance, cfg.Device, capture.Events{
		UtteranceAdded: func(u models.Utterance, interrupted bool, device bubble.DeviceType) {
			if !e.bubbles.ShouldProcessUtterance(u, device) {
				return
			}
			if ui.UtteranceAdded != nil {
				ui.UtteranceAdded(u, interrupted)
			}
		},
		TranscriptWord: func(speaker models.Speaker, word string) {
			if ui.TranscriptWord != nil {
				ui.TranscriptWord(speaker, word)
			}
		},
	})

	profiles := opts.ProfileStore
	if profiles == nil {
		profiles = tools.NewMemoryProfileStore(nil)
	}
	e.toolsReg = tools.NewRegistry(clk, engineSender{e}, profiles, e.gateway, e.corrections, e.citations, tools.Telemetry{
		SearchStarted: ui.SearchStarted,
		SearchResult:  ui.SearchResult,
	})

	e.newChannel = opts.NewChannel
	if e.newChannel == nil {
		e.newChannel = func(key string, cb transport.Callbacks) transport.Channel {
			return transport.NewPeerConnection(opts.RealtimeURL, opts.Model, key, cb)
		}
	}

	e.controller = ptt.NewController(clk, cfg.Device, engineTransport{e}, engineLimits{e}, engineUI{e})

	e.toolCalls = make(chan events.FunctionCallDone, 16)
	e.done = make(chan struct{})
	go e.toolLoop()
	return e
}

func (e *Engine) toolLoop() {
	for {
		select {
		case call := <-e.toolCalls:
			if err := e.toolsReg.Dispatch(context.Background(), call); err != nil {
				slog.Error("session: tool dispatch failed", "tool", call.Name, "error", err)
			}
		case <-e.done:
			return
		}
	}
}

// Press forwards a press-to-talk press. The user capture starts once the
// mic goes live.
func (e *Engine) Press(ctx context.Context) {
	wasActive := e.controller.MicActive()
	if e.machine.Interrupt() {
		if e.ui.AssistantInterrupted != nil {
			e.ui.AssistantInterrupted()
		}
		go func() {
			if _, err := e.captures.FinalizeAI(context.Background(), true); err != nil {
				slog.Warn("session: interrupted finalize failed", "error", err)
			}
		}()
	}
	e.controller.Press(ctx)
	if !wasActive && e.controller.MicActive() {
		if err := e.captures.StartUser(ctx); err != nil {
			slog.Warn("session: user capture start failed", "error", err)
		}
	}
}

// Release forwards a press-to-talk release.
func (e *Engine) Release() { e.controller.Release() }

// TouchStart, TouchMove, TouchEnd and TouchCancel forward mobile touch
// events to the press-to-talk controller.
func (e *Engine) TouchStart(ctx context.Context) bool { return e.touchPress(ctx) }
func (e *Engine) TouchMove() bool                     { return e.controller.TouchMove() }
func (e *Engine) TouchEnd()                           { e.Release() }
func (e *Engine) TouchCancel()                        { e.Release() }

func (e *Engine) touchPress(ctx context.Context) bool {
	wasActive := e.controller.MicActive()
	ok := e.controller.TouchStart(ctx)
	if ok && !wasActive && e.controller.MicActive() {
		if err := e.captures.StartUser(ctx); err != nil {
			slog.Warn("session: user capture start failed", "error", err)
		}
	}
	return ok
}

// SetCorrectionFeedback stores the learner's reaction to a correction.
func (e *Engine) SetCorrectionFeedback(correctionID string, fb models.UserFeedback) (models.Correction, bool) {
	return e.corrections.SetFeedback(correctionID, fb)
}

// Corrections lists the session's correction records.
func (e *Engine) Corrections() []models.Correction { return e.corrections.List() }

// Close stops the tool dispatch worker and releases the transport.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.done) })

	e.mu.Lock()
	ch := e.channel
	e.channel = nil
	e.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// connect mints a credential and establishes the transport.
func (e *Engine) connect(ctx context.Context) error {
	session, err := e.gateway.MintToken(ctx)
	if err != nil {
		return fmt.Errorf("session connect failed: %w", err)
	}

	e.mu.Lock()
	e.credential = session.ClientSecret.Value
	e.mu.Unlock()
	e.tracker.SetCredential(session.ClientSecret.Value)
	if e.ui.UsageUpdated != nil {
		e.ui.UsageUpdated(session.TokenUsage)
	}

	cb := transport.Callbacks{
		OnMessage:     func(data []byte) { e.HandleFrame(data) },
		OnChannelOpen: func(send func([]byte) error) { e.bootstrap(send) },
		OnStateChange: func(s transport.State) {
			if e.ui.ConnectionState != nil {
				e.ui.ConnectionState(s)
			}
		},
		OnReconnectNeeded: func() {
			slog.Warn("session: transport lost, reconnect required")
		},
	}

	ch := e.newChannel(session.ClientSecret.Value, cb)
	if err := ch.Connect(ctx); err != nil {
		return fmt.Errorf("session connect failed: %w", err)
	}

	e.mu.Lock()
	e.channel = ch
	e.mu.Unlock()
	return nil
}

// bootstrap sends the system prompt and the tool catalog as soon as the
// control channel opens.
func (e *Engine) bootstrap(send func([]byte) error) {
	if e.cfg.SystemPrompt != "" {
		frame, err := events.ConversationItemCreate("system", e.cfg.SystemPrompt)
		if err == nil {
			err = send(frame)
		}
		if err != nil {
			slog.Error("session: system prompt not sent", "error", err)
		}
	}

	frame, err := events.SessionUpdate(tools.Definitions(), e.cfg.TranscriptionModel)
	if err == nil {
		err = send(frame)
	}
	if err != nil {
		slog.Error("session: session.update not sent", "error", err)
	}
}

// Send writes one frame to the control channel.
func (e *Engine) Send(frame []byte) error {
	e.mu.Lock()
	ch := e.channel
	e.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("session not connected")
	}
	return ch.Send(frame)
}

type noopRecorder struct{}

func (noopRecorder) Start(ctx context.Context) error          { return nil }
func (noopRecorder) Stop(ctx context.Context) ([]byte, error) { return nil, nil }

// engineSender routes tool replies through the engine's channel.
type engineSender struct{ e *Engine }

func (s engineSender) Send(frame []byte) error { return s.e.Send(frame) }

// engineTransport adapts the engine's channel lifecycle to the ptt
// controller.
type engineTransport struct{ e *Engine }

func (t engineTransport) Connect(ctx context.Context) error { return t.e.connect(ctx) }

func (t engineTransport) WaitForDataChannelOpen(timeout time.Duration) bool {
	t.e.mu.Lock()
	ch := t.e.channel
	t.e.mu.Unlock()
	if ch == nil {
		return false
	}
	return ch.WaitForDataChannelOpen(timeout)
}

func (t engineTransport) SetMicEnabled(enabled bool) {
	t.e.mu.Lock()
	ch := t.e.channel
	t.e.mu.Unlock()
	if ch != nil {
		ch.SetMicEnabled(enabled)
	}
}

// engineLimits checks the usage ledger before a model request.
type engineLimits struct{ e *Engine }

func (l engineLimits) CanMakeRequest(ctx context.Context) (bool, string) {
	l.e.mu.Lock()
	key := l.e.credential
	l.e.mu.Unlock()
	if key == "" {
		return true, ""
	}
	return l.e.gateway.CanMakeRequest(ctx, key)
}

// engineUI adapts press-to-talk feedback to the UI event sink.
type engineUI struct{ e *Engine }

func (u engineUI) SetLabel(label string) {
	if u.e.ui.SetLabel != nil {
		u.e.ui.SetLabel(label)
	}
}

func (u engineUI) ClearLabel() {
	if u.e.ui.ClearLabel != nil {
		u.e.ui.ClearLabel()
	}
}

func (u engineUI) ShowLimitOverlay() {
	if u.e.ui.ShowLimitOverlay != nil {
		u.e.ui.ShowLimitOverlay()
	}
}
