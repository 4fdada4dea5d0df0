// Package transport carries the realtime session: a WebRTC peer connection
// with a control data channel, and a WebSocket fallback for environments
// where UDP is blocked.
package transport

import (
	"context"
	"time"
)

// State is the coarse connection lifecycle exposed to the UI.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

// Callbacks fan transport activity out to the session engine. All callbacks
// may be nil.
type Callbacks struct {
	// OnMessage receives every control-channel frame from the model.
	OnMessage func(data []byte)
	// OnChannelOpen fires once when the control channel becomes writable.
	// The engine sends its bootstrap frames from here.
	OnChannelOpen func(send func(frame []byte) error)
	// OnRemoteTrack fires once per distinct remote audio track.
	OnRemoteTrack func(trackID string)
	// OnStateChange reports lifecycle transitions.
	OnStateChange func(s State)
	// OnReconnectNeeded fires when the connection failed and a fresh
	// session should be established.
	OnReconnectNeeded func()
}

// Channel is the transport surface the rest of the session drives.
type Channel interface {
	Connect(ctx context.Context) error
	Send(frame []byte) error
	WaitForDataChannelOpen(timeout time.Duration) bool
	SetMicEnabled(enabled bool)
	Close() error
}
