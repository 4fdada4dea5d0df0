package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is the fallback transport for networks where the peer
// connection cannot establish. Audio rides the control channel as encoded
// frames instead of an RTP track.
type WebSocket struct {
	mu      sync.Mutex
	writeMu sync.Mutex

	url          string
	ephemeralKey string
	callbacks    Callbacks

	conn       *websocket.Conn
	open       chan struct{}
	openOnce   sync.Once
	micEnabled bool
	state      State
}

func NewWebSocket(url, ephemeralKey string, callbacks Callbacks) *WebSocket {
	return &WebSocket{
		url:          url,
		ephemeralKey: ephemeralKey,
		callbacks:    callbacks,
		open:         make(chan struct{}),
		state:        StateNew,
	}
}

func (w *WebSocket) setState(s State) {
	w.mu.Lock()
	if w.state == s || w.state == StateClosed {
		w.mu.Unlock()
		return
	}
	w.state = s
	w.mu.Unlock()
	if w.callbacks.OnStateChange != nil {
		w.callbacks.OnStateChange(s)
	}
}

// State returns the current lifecycle state.
func (w *WebSocket) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Connect dials the realtime endpoint and starts the read loop.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.setState(StateConnecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+w.ephemeralKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.url, header)
	if err != nil {
		w.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.setState(StateConnected)
	w.openOnce.Do(func() { close(w.open) })
	if w.callbacks.OnChannelOpen != nil {
		w.callbacks.OnChannelOpen(w.Send)
	}

	go w.readLoop(conn)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.state == StateClosed
			w.mu.Unlock()
			if closed {
				return
			}
			slog.Warn("transport: websocket read failed", "error", err)
			w.setState(StateDisconnected)
			if w.callbacks.OnReconnectNeeded != nil {
				w.callbacks.OnReconnectNeeded()
			}
			return
		}
		if w.callbacks.OnMessage != nil {
			w.callbacks.OnMessage(data)
		}
	}
}

// Send writes one frame. Writes are serialized; gorilla connections allow
// only one concurrent writer.
func (w *WebSocket) Send(frame []byte) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("websocket send failed: %w", err)
	}
	return nil
}

// WaitForDataChannelOpen blocks until the socket is writable or the
// timeout elapses.
func (w *WebSocket) WaitForDataChannelOpen(timeout time.Duration) bool {
	select {
	case <-w.open:
		return true
	case <-time.After(timeout):
		return false
	}
}

// SetMicEnabled gates outgoing audio frames.
func (w *WebSocket) SetMicEnabled(enabled bool) {
	w.mu.Lock()
	w.micEnabled = enabled
	w.mu.Unlock()
}

// MicEnabled reports the current gate state.
func (w *WebSocket) MicEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.micEnabled
}

// Close shuts the connection down.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.state = StateClosed
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return conn.Close()
}
