package turn

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/session/events"
)

func mustParse(t *testing.T, frame string) events.Event {
	t.Helper()
	ev, err := events.Parse([]byte(frame))
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestDeltaStartsTurn(t *testing.T) {
	m := New(clock.NewMock())

	d := m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":"First"}`))
	if !d.Propagate || !d.StartTurn {
		t.Errorf("first delta decision = %+v", d)
	}
	if m.State() != Speaking {
		t.Errorf("state = %v", m.State())
	}

	d = m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":" answer."}`))
	if !d.Propagate || d.StartTurn {
		t.Errorf("second delta decision = %+v", d)
	}
}

func TestBufferStartedAlsoStartsTurn(t *testing.T) {
	m := New(clock.NewMock())
	d := m.Observe(mustParse(t, `{"type":"output_audio_buffer.started"}`))
	if !d.StartTurn {
		t.Errorf("decision = %+v", d)
	}
}

func TestBufferStoppedCommitsTurn(t *testing.T) {
	m := New(clock.NewMock())
	m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":"x"}`))

	d := m.Observe(mustParse(t, `{"type":"output_audio_buffer.stopped"}`))
	if !d.Propagate || !d.CommitTurn {
		t.Errorf("decision = %+v", d)
	}
	if m.State() != Idle {
		t.Errorf("state = %v", m.State())
	}
}

func TestInterruptSuppressesStaleDeltas(t *testing.T) {
	m := New(clock.NewMock())
	m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":"First answer."}`))

	if !m.Interrupt() {
		t.Fatal("Interrupt returned false while speaking")
	}
	if m.State() != Interrupted {
		t.Fatalf("state = %v", m.State())
	}

	d := m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":" stale tail"}`))
	if d.Propagate {
		t.Error("stale delta propagated during drain")
	}

	// The drain signal is consumed, not surfaced.
	d = m.Observe(mustParse(t, `{"type":"output_audio_buffer.stopped"}`))
	if d.Propagate || d.CommitTurn {
		t.Errorf("drain signal decision = %+v", d)
	}
	if m.State() != Idle {
		t.Errorf("state after drain signal = %v", m.State())
	}

	// Next turn opens normally.
	d = m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":"Second answer."}`))
	if !d.StartTurn {
		t.Errorf("next turn decision = %+v", d)
	}
}

func TestResponseDoneLeavesInterruptedButPropagates(t *testing.T) {
	m := New(clock.NewMock())
	m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":"x"}`))
	m.Interrupt()

	d := m.Observe(mustParse(t, `{"type":"response.done","response":{"usage":{"total_tokens":10}}}`))
	if !d.Propagate {
		t.Error("response.done usage must pass through during drain")
	}
	if m.State() != Idle {
		t.Errorf("state = %v", m.State())
	}
}

func TestDrainTimerExpires(t *testing.T) {
	mock := clock.NewMock()
	m := New(mock)
	m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":"x"}`))
	m.Interrupt()

	mock.Add(DrainTimeout - time.Millisecond)
	if m.State() != Interrupted {
		t.Fatalf("state before timeout = %v", m.State())
	}
	mock.Add(2 * time.Millisecond)
	if m.State() != Idle {
		t.Errorf("state after timeout = %v", m.State())
	}
}

func TestToolCallsPassThroughWhileInterrupted(t *testing.T) {
	m := New(clock.NewMock())
	m.Observe(mustParse(t, `{"type":"response.audio_transcript.delta","delta":"x"}`))
	m.Interrupt()

	d := m.Observe(mustParse(t, `{"type":"response.function_call_arguments.done","name":"search_knowledge","call_id":"c"}`))
	if !d.Propagate {
		t.Error("tool call suppressed during drain")
	}
	d = m.Observe(mustParse(t, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"hola"}`))
	if !d.Propagate {
		t.Error("user transcription suppressed during drain")
	}
}

func TestInterruptWhileIdleIsNoop(t *testing.T) {
	m := New(clock.NewMock())
	if m.Interrupt() {
		t.Error("Interrupt returned true while idle")
	}
}
