package session

import (
	"context"
	"log/slog"

	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/session/events"
)

// HandleFrame routes one control-channel frame through the turn gate and
// into the engine's components. The gate runs first: events suppressed
// during a drain window never reach any other component.
func (e *Engine) HandleFrame(data []byte) {
	ev, err := events.Parse(data)
	if err != nil {
		slog.Warn("session: unreadable frame dropped", "error", err)
		return
	}

	decision := e.machine.Observe(ev)
	if !decision.Propagate {
		slog.Debug("session: stale frame suppressed", "kind", ev.Kind())
		return
	}

	switch ev := ev.(type) {
	case *events.AudioTranscriptDelta:
		if decision.StartTurn {
			e.beginAssistantTurn()
		}
		remapped := e.citations.StreamingDelta(ev.Delta)
		if e.ui.StreamingTranscript != nil {
			e.ui.StreamingTranscript(models.SpeakerAI, remapped)
		}
		if words := e.bubbles.AppendDelta(models.SpeakerAI, ev.Delta); len(words) > 0 && e.ui.BubbleWords != nil {
			e.ui.BubbleWords(models.SpeakerAI, words)
		}
		e.captures.AppendAIDelta(ev.Delta, ev.Timestamp())
		e.tracker.AddText(ev.Delta)

	case *events.AudioBufferStarted:
		if decision.StartTurn {
			e.beginAssistantTurn()
		}

	case *events.AudioTranscriptDone:
		final := e.citations.FinalTranscript(ev.Transcript)
		if e.ui.FinalTranscript != nil {
			e.ui.FinalTranscript(models.SpeakerAI, final)
		}
		leftover := e.bubbles.Finalize(models.SpeakerAI)
		if e.ui.BubbleFinalized != nil {
			e.ui.BubbleFinalized(models.SpeakerAI, leftover)
		}
		if e.ui.SourcesUpdated != nil {
			e.ui.SourcesUpdated(e.panel.Sources())
		}

	case *events.TextDelta:
		remapped := e.citations.StreamingDelta(ev.Delta)
		if e.ui.StreamingTranscript != nil {
			e.ui.StreamingTranscript(models.SpeakerAI, remapped)
		}
		e.tracker.AddText(ev.Delta)

	case *events.TextDone:
		final := e.citations.FinalTranscript(ev.Text)
		if e.ui.FinalTranscript != nil {
			e.ui.FinalTranscript(models.SpeakerAI, final)
		}
		if e.ui.SourcesUpdated != nil {
			e.ui.SourcesUpdated(e.panel.Sources())
		}

	case *events.AudioBufferStopped:
		if decision.CommitTurn {
			go func() {
				if _, err := e.captures.FinalizeAI(context.Background(), false); err != nil {
					slog.Warn("session: assistant finalize failed", "error", err)
				}
			}()
		}

	case *events.UserTranscription:
		e.tracker.AddText(ev.Transcript)
		go e.captures.HandleUserTranscription(context.Background(), ev.ItemID, ev.Transcript)

	case *events.FunctionCallDone:
		// The tool worker replies to calls one at a time in arrival order:
		// one function_call_output then one response.create per call.
		select {
		case e.toolCalls <- *ev:
		case <-e.done:
		}

	case *events.ResponseDone:
		if ev.Usage != nil {
			usage := *ev.Usage
			go e.tracker.UpdateActual(usage)
		}

	case *events.SessionUpdated:
		if ev.Usage != nil {
			usage := *ev.Usage
			go e.tracker.UpdateActual(usage)
		}

	case *events.Unknown:
		slog.Debug("session: unhandled event kind", "kind", ev.Kind())
	}
}

func (e *Engine) beginAssistantTurn() {
	e.bubbles.BeginTurn(models.SpeakerAI, e.cfg.Device)
	if err := e.captures.StartAI(context.Background()); err != nil {
		slog.Warn("session: assistant capture start failed", "error", err)
	}
}
