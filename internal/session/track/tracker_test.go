package track

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinge-app/tinge/internal/domain/models"
)

type estimateCall struct {
	key   string
	text  string
	audio float64
}

type fakeSink struct {
	mu        sync.Mutex
	estimates []estimateCall
	actuals   []models.UsageReport
	err       error
}

func (f *fakeSink) PostEstimate(ctx context.Context, key, text string, audioDuration float64) (*models.UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.estimates = append(f.estimates, estimateCall{key: key, text: text, audio: audioDuration})
	return &models.UsageSnapshot{Limit: 15000}, nil
}

func (f *fakeSink) PostActual(ctx context.Context, key string, report models.UsageReport) (*models.UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.actuals = append(f.actuals, report)
	return &models.UsageSnapshot{ActualTokens: report.TotalTokens}, nil
}

func (f *fakeSink) estimateCalls() []estimateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]estimateCall(nil), f.estimates...)
}

func TestDebouncedFlushCombinesBuffers(t *testing.T) {
	sink := &fakeSink{}
	tr := NewTracker("ek_1", sink, nil)

	tr.AddText("hola")
	tr.AddText("mundo")
	tr.AddAudio(1.5)

	time.Sleep(FlushDebounce + 150*time.Millisecond)

	calls := sink.estimateCalls()
	if len(calls) != 1 {
		t.Fatalf("estimate calls = %d, want 1 debounced flush", len(calls))
	}
	if calls[0].text != "hola mundo" || calls[0].audio != 1.5 || calls[0].key != "ek_1" {
		t.Errorf("call = %+v", calls[0])
	}

	// Buffers cleared: a later add produces a fresh flush.
	tr.AddText("adios")
	time.Sleep(FlushDebounce + 150*time.Millisecond)
	calls = sink.estimateCalls()
	if len(calls) != 2 || calls[1].text != "adios" || calls[1].audio != 0 {
		t.Errorf("calls = %+v", calls)
	}
}

func TestResetClearsPendingFlush(t *testing.T) {
	sink := &fakeSink{}
	tr := NewTracker("ek_1", sink, nil)

	tr.AddText("descartado")
	tr.Reset()

	time.Sleep(FlushDebounce + 150*time.Millisecond)
	if calls := sink.estimateCalls(); len(calls) != 0 {
		t.Errorf("flush fired after reset: %+v", calls)
	}
}

func TestFailuresAreSwallowedAndRetainBuffers(t *testing.T) {
	sink := &fakeSink{err: errors.New("gateway down")}
	tr := NewTracker("ek_1", sink, nil)

	tr.AddText("hola")
	time.Sleep(FlushDebounce + 150*time.Millisecond)

	// Recover: the retained buffer goes out with the next flush.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	tr.AddText("mundo")
	time.Sleep(FlushDebounce + 150*time.Millisecond)

	calls := sink.estimateCalls()
	if len(calls) != 1 || calls[0].text != "hola mundo" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestUpdateActualIsImmediate(t *testing.T) {
	sink := &fakeSink{}
	var snaps []models.UsageSnapshot
	tr := NewTracker("ek_1", sink, func(s models.UsageSnapshot) { snaps = append(snaps, s) })

	tr.UpdateActual(models.UsageReport{TotalTokens: 42})

	sink.mu.Lock()
	actuals := len(sink.actuals)
	sink.mu.Unlock()
	if actuals != 1 {
		t.Fatalf("actual calls = %d", actuals)
	}
	if len(snaps) != 1 || snaps[0].ActualTokens != 42 {
		t.Errorf("snapshots = %+v", snaps)
	}
}
