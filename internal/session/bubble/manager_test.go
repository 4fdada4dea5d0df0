package bubble

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/domain/models"
)

func newManager(mock *clock.Mock) *Manager {
	n := 0
	return NewManager(mock, func() string {
		n++
		return fmt.Sprintf("bub_%d", n)
	})
}

func TestBeginTurnReusesUnfinalized(t *testing.T) {
	m := newManager(clock.NewMock())

	a := m.BeginTurn(models.SpeakerAI, DeviceDesktop)
	b := m.BeginTurn(models.SpeakerAI, DeviceDesktop)
	if a != b {
		t.Error("unfinalized bubble not reused")
	}

	m.Finalize(models.SpeakerAI)
	c := m.BeginTurn(models.SpeakerAI, DeviceDesktop)
	if c == a {
		t.Error("finalized bubble reused")
	}
}

func TestMobileCooldown(t *testing.T) {
	mock := clock.NewMock()
	m := newManager(mock)

	a := m.BeginTurn(models.SpeakerUser, DeviceMobile)
	m.Finalize(models.SpeakerUser)

	mock.Add(200 * time.Millisecond)
	b := m.BeginTurn(models.SpeakerUser, DeviceMobile)
	if b != a {
		t.Error("creation inside cooldown should return the previous bubble")
	}

	mock.Add(400 * time.Millisecond)
	c := m.BeginTurn(models.SpeakerUser, DeviceMobile)
	if c == a {
		t.Error("creation after cooldown should open a new bubble")
	}
}

func TestAppendDeltaCompletedWords(t *testing.T) {
	m := newManager(clock.NewMock())
	m.BeginTurn(models.SpeakerAI, DeviceDesktop)

	words := m.AppendDelta(models.SpeakerAI, "Barcelona is ")
	if len(words) != 1 || words[0] != "Barcelona" {
		t.Errorf("first delta words = %v", words)
	}

	// "a" is too short, "cit" is still in progress.
	words = m.AppendDelta(models.SpeakerAI, "a cit")
	if len(words) != 0 {
		t.Errorf("partial delta words = %v", words)
	}

	words = m.AppendDelta(models.SpeakerAI, "y.")
	if len(words) != 1 || words[0] != "city" {
		t.Errorf("completing delta words = %v", words)
	}

	leftover := m.Finalize(models.SpeakerAI)
	if len(leftover) != 0 {
		t.Errorf("leftover = %v", leftover)
	}
}

func TestFinalizeReturnsLeftoverWords(t *testing.T) {
	m := newManager(clock.NewMock())
	m.BeginTurn(models.SpeakerAI, DeviceDesktop)
	m.AppendDelta(models.SpeakerAI, "Su arquitectura modernista")

	leftover := m.Finalize(models.SpeakerAI)
	if len(leftover) != 1 || leftover[0] != "modernista" {
		t.Errorf("leftover = %v", leftover)
	}
}

func TestUserDeltasReturnNoWords(t *testing.T) {
	m := newManager(clock.NewMock())
	m.BeginTurn(models.SpeakerUser, DeviceDesktop)
	if words := m.AppendDelta(models.SpeakerUser, "hola mundo "); words != nil {
		t.Errorf("user words = %v", words)
	}
}

func TestScheduleFinalize(t *testing.T) {
	mock := clock.NewMock()
	m := newManager(mock)
	m.BeginTurn(models.SpeakerAI, DeviceDesktop)
	m.AppendDelta(models.SpeakerAI, "palabras finales")

	var got []string
	done := make(chan struct{})
	m.ScheduleFinalize(models.SpeakerAI, 300*time.Millisecond, func(leftover []string) {
		got = leftover
		close(done)
	})

	mock.Add(350 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("finalize callback never fired")
	}
	if len(got) != 2 {
		t.Errorf("leftover = %v", got)
	}
}

func TestShouldProcessUtteranceDedup(t *testing.T) {
	m := newManager(clock.NewMock())

	rec := models.Utterance{ID: "utt_1", Speaker: models.SpeakerUser, Text: "hola como estas hoy amigo mio que tal todo"}
	if !m.ShouldProcessUtterance(rec, DeviceDesktop) {
		t.Fatal("first call returned false")
	}
	if m.ShouldProcessUtterance(rec, DeviceDesktop) {
		t.Error("second identical call returned true")
	}

	// Same text under a different id still collides on the content key.
	rec2 := models.Utterance{ID: "utt_2", Speaker: models.SpeakerUser, Text: rec.Text}
	if m.ShouldProcessUtterance(rec2, DeviceMobile) {
		t.Error("content duplicate returned true")
	}

	// Different speaker with the same text is a different key.
	rec3 := models.Utterance{ID: "utt_3", Speaker: models.SpeakerAI, Text: rec.Text}
	if !m.ShouldProcessUtterance(rec3, DeviceDesktop) {
		t.Error("other speaker was deduped")
	}
}

func TestAppendWordClearsPlaceholder(t *testing.T) {
	m := newManager(clock.NewMock())
	b := m.BeginTurn(models.SpeakerUser, DeviceDesktop)
	if !b.placeholder {
		t.Fatal("new bubble should start as placeholder")
	}
	m.AppendWord(models.SpeakerUser, "hola")
	if b.placeholder {
		t.Error("placeholder not cleared")
	}
	if len(b.Words()) != 1 {
		t.Errorf("words = %v", b.Words())
	}
}
