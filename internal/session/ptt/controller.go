// Package ptt implements the press-to-talk input state machine.
package ptt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tinge-app/tinge/internal/session/bubble"
)

const (
	// ConnectingLabelDuration is how long the connecting feedback stays up
	// on the first press.
	ConnectingLabelDuration = 1200 * time.Millisecond
	// ReleaseBufferDesktop delays mic disable so the trailing audio frame
	// is not clipped.
	ReleaseBufferDesktop = 500 * time.Millisecond
	ReleaseBufferMobile  = 1000 * time.Millisecond
	// TouchDebounce coalesces duplicate touchstart events.
	TouchDebounce = 100 * time.Millisecond
	// DataChannelOpenTimeout bounds the wait before enabling the mic.
	DataChannelOpenTimeout = 5 * time.Second
)

// Transport is the subset of the connection layer the controller drives.
type Transport interface {
	Connect(ctx context.Context) error
	WaitForDataChannelOpen(timeout time.Duration) bool
	SetMicEnabled(enabled bool)
}

// LimitChecker asks the gateway whether another model request is allowed.
type LimitChecker interface {
	CanMakeRequest(ctx context.Context) (allowed bool, reason string)
}

// UI receives press-to-talk feedback.
type UI interface {
	SetLabel(label string)
	ClearLabel()
	ShowLimitOverlay()
}

// Controller sequences press and release into transport operations.
type Controller struct {
	mu     sync.Mutex
	clk    clock.Clock
	device bubble.DeviceType

	transport Transport
	limits    LimitChecker
	ui        UI

	firstConnectionPress bool
	micActive            bool
	releaseTimer         *clock.Timer
	lastTouchStart       time.Time
}

func NewController(clk clock.Clock, device bubble.DeviceType, transport Transport, limits LimitChecker, ui UI) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	return &Controller{
		clk:                  clk,
		device:               device,
		transport:            transport,
		limits:               limits,
		ui:                   ui,
		firstConnectionPress: true,
	}
}

// MicActive reports whether the mic track is currently enabled by PTT.
func (c *Controller) MicActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micActive
}

// Press handles a press-down. The first press only establishes the
// connection; later presses enable the mic once the data channel is open.
func (c *Controller) Press(ctx context.Context) {
	c.mu.Lock()
	if c.firstConnectionPress {
		c.mu.Unlock()
		c.connectOnly(ctx)
		return
	}
	c.mu.Unlock()

	if allowed, reason := c.limits.CanMakeRequest(ctx); !allowed {
		slog.Info("ptt: press blocked", "reason", reason)
		c.ui.ShowLimitOverlay()
		return
	}

	if !c.transport.WaitForDataChannelOpen(DataChannelOpenTimeout) {
		slog.Warn("ptt: data channel did not open in time")
		return
	}

	c.mu.Lock()
	if c.releaseTimer != nil {
		c.releaseTimer.Stop()
		c.releaseTimer = nil
	}
	c.micActive = true
	c.mu.Unlock()
	c.transport.SetMicEnabled(true)
}

func (c *Controller) connectOnly(ctx context.Context) {
	c.ui.SetLabel("Connecting…")
	labelTimer := c.clk.AfterFunc(ConnectingLabelDuration, c.ui.ClearLabel)

	if err := c.transport.Connect(ctx); err != nil {
		labelTimer.Stop()
		c.ui.ClearLabel()
		slog.Error("ptt: connection failed", "error", err)
		return
	}

	c.mu.Lock()
	c.firstConnectionPress = false
	c.mu.Unlock()
}

// Release handles a press-up. The mic is disabled after the device's
// release buffer so the trailing audio frame reaches the encoder.
func (c *Controller) Release() {
	c.mu.Lock()
	if !c.micActive {
		c.mu.Unlock()
		return
	}
	c.micActive = false

	buffer := ReleaseBufferDesktop
	if c.device == bubble.DeviceMobile {
		buffer = ReleaseBufferMobile
	}
	if c.releaseTimer != nil {
		c.releaseTimer.Stop()
	}
	c.releaseTimer = c.clk.AfterFunc(buffer, func() {
		c.transport.SetMicEnabled(false)
	})
	c.mu.Unlock()
}

// TouchStart routes a touchstart to Press, coalescing duplicates that
// arrive within the debounce window. Returns false when the event was
// swallowed.
func (c *Controller) TouchStart(ctx context.Context) bool {
	c.mu.Lock()
	now := c.clk.Now()
	if !c.lastTouchStart.IsZero() && now.Sub(c.lastTouchStart) < TouchDebounce {
		c.mu.Unlock()
		return false
	}
	c.lastTouchStart = now
	c.mu.Unlock()

	c.Press(ctx)
	return true
}

// TouchMove is consumed while the mic is active to suppress scrolling.
// Returns true when the event should be canceled.
func (c *Controller) TouchMove() bool {
	return c.MicActive()
}

// TouchEnd routes to the shared release path.
func (c *Controller) TouchEnd() { c.Release() }

// TouchCancel is treated as a release.
func (c *Controller) TouchCancel() { c.Release() }
