package ptt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/session/bubble"
)

type fakeTransport struct {
	mu          sync.Mutex
	connects    int
	connectErr  error
	channelOpen bool
	micStates   []bool
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) WaitForDataChannelOpen(timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelOpen
}

func (f *fakeTransport) SetMicEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micStates = append(f.micStates, enabled)
}

func (f *fakeTransport) mics() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.micStates...)
}

type fakeLimits struct {
	allowed bool
	reason  string
}

func (f *fakeLimits) CanMakeRequest(ctx context.Context) (bool, string) {
	return f.allowed, f.reason
}

type fakeUI struct {
	mu       sync.Mutex
	labels   []string
	cleared  int
	overlays int
}

func (f *fakeUI) SetLabel(label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, label)
}

func (f *fakeUI) ClearLabel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeUI) ShowLimitOverlay() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlays++
}

func TestFirstPressConnectOnly(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{channelOpen: true}
	ui := &fakeUI{}
	c := NewController(mock, bubble.DeviceDesktop, transport, &fakeLimits{allowed: true}, ui)

	c.Press(context.Background())

	if transport.connects != 1 {
		t.Errorf("connects = %d", transport.connects)
	}
	if c.MicActive() {
		t.Error("first press must not enable the mic")
	}
	if len(ui.labels) != 1 || ui.labels[0] != "Connecting…" {
		t.Errorf("labels = %v", ui.labels)
	}

	mock.Add(ConnectingLabelDuration + time.Millisecond)
	if ui.cleared == 0 {
		t.Error("connecting label never cleared")
	}
}

func TestSecondPressEnablesMic(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{channelOpen: true}
	c := NewController(mock, bubble.DeviceDesktop, transport, &fakeLimits{allowed: true}, &fakeUI{})

	c.Press(context.Background())
	c.Press(context.Background())

	if !c.MicActive() {
		t.Error("mic not active after second press")
	}
	mics := transport.mics()
	if len(mics) != 1 || !mics[0] {
		t.Errorf("mic states = %v", mics)
	}
}

func TestPressBlockedAtTokenLimit(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{channelOpen: true}
	ui := &fakeUI{}
	limits := &fakeLimits{allowed: true}
	c := NewController(mock, bubble.DeviceDesktop, transport, limits, ui)
	c.Press(context.Background())

	limits.allowed = false
	limits.reason = "token_limit_exceeded"
	c.Press(context.Background())

	if ui.overlays != 1 {
		t.Errorf("overlays = %d", ui.overlays)
	}
	if c.MicActive() {
		t.Error("mic enabled despite limit")
	}
}

func TestReleaseBuffersMicDisable(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{channelOpen: true}
	c := NewController(mock, bubble.DeviceDesktop, transport, &fakeLimits{allowed: true}, &fakeUI{})
	c.Press(context.Background())
	c.Press(context.Background())

	c.Release()
	if c.MicActive() {
		t.Error("micActive should drop immediately on release")
	}
	if mics := transport.mics(); len(mics) != 1 {
		t.Errorf("mic disabled before release buffer elapsed: %v", mics)
	}

	mock.Add(ReleaseBufferDesktop + time.Millisecond)
	mics := transport.mics()
	if len(mics) != 2 || mics[1] {
		t.Errorf("mic states = %v", mics)
	}
}

func TestMobileReleaseBufferIsLonger(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{channelOpen: true}
	c := NewController(mock, bubble.DeviceMobile, transport, &fakeLimits{allowed: true}, &fakeUI{})
	c.Press(context.Background())
	c.Press(context.Background())
	c.Release()

	mock.Add(ReleaseBufferDesktop + time.Millisecond)
	if mics := transport.mics(); len(mics) != 1 {
		t.Errorf("mobile disable fired at desktop buffer: %v", mics)
	}
	mock.Add(ReleaseBufferMobile)
	if mics := transport.mics(); len(mics) != 2 {
		t.Errorf("mobile disable never fired: %v", mics)
	}
}

func TestRepressCancelsPendingDisable(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{channelOpen: true}
	c := NewController(mock, bubble.DeviceDesktop, transport, &fakeLimits{allowed: true}, &fakeUI{})
	c.Press(context.Background())
	c.Press(context.Background())
	c.Release()

	// Press again inside the release buffer.
	c.Press(context.Background())
	mock.Add(ReleaseBufferDesktop * 2)

	mics := transport.mics()
	for _, enabled := range mics[1:] {
		if !enabled {
			t.Errorf("pending disable fired after re-press: %v", mics)
		}
	}
	if !c.MicActive() {
		t.Error("mic should stay active")
	}
}

func TestTouchDebounce(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Now())
	transport := &fakeTransport{channelOpen: true}
	c := NewController(mock, bubble.DeviceMobile, transport, &fakeLimits{allowed: true}, &fakeUI{})

	if !c.TouchStart(context.Background()) {
		t.Fatal("first touchstart swallowed")
	}
	if c.TouchStart(context.Background()) {
		t.Error("duplicate touchstart within debounce accepted")
	}
	mock.Add(TouchDebounce + time.Millisecond)
	if !c.TouchStart(context.Background()) {
		t.Error("touchstart after debounce swallowed")
	}
}

func TestTouchMoveConsumedWhileActive(t *testing.T) {
	mock := clock.NewMock()
	transport := &fakeTransport{channelOpen: true}
	c := NewController(mock, bubble.DeviceMobile, transport, &fakeLimits{allowed: true}, &fakeUI{})
	c.Press(context.Background())
	c.Press(context.Background())

	if !c.TouchMove() {
		t.Error("touchmove not consumed while mic active")
	}
	c.TouchCancel()
	if c.TouchMove() {
		t.Error("touchmove consumed after release")
	}
}
