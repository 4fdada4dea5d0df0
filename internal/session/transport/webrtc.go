package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/tinge-app/tinge/internal/metrics"
)

const dataChannelLabel = "oai-events"

// PeerConnection is the WebRTC transport. The control channel rides a data
// channel; microphone audio goes out on an opus track.
type PeerConnection struct {
	mu sync.Mutex

	baseURL      string
	model        string
	ephemeralKey string
	httpClient   *http.Client
	callbacks    Callbacks

	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	micTrack *webrtc.TrackLocalStaticSample

	dcOpen     chan struct{}
	openOnce   sync.Once
	micEnabled bool
	seenTracks map[string]bool
	state      State
}

// NewPeerConnection creates an unconnected transport. baseURL is the
// upstream realtime SDP endpoint; ephemeralKey is the minted client secret.
func NewPeerConnection(baseURL, model, ephemeralKey string, callbacks Callbacks) *PeerConnection {
	return &PeerConnection{
		baseURL:      baseURL,
		model:        model,
		ephemeralKey: ephemeralKey,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		callbacks:    callbacks,
		dcOpen:       make(chan struct{}),
		seenTracks:   make(map[string]bool),
		state:        StateNew,
	}
}

func (p *PeerConnection) setState(s State) {
	p.mu.Lock()
	if p.state == s || p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = s
	p.mu.Unlock()
	if p.callbacks.OnStateChange != nil {
		p.callbacks.OnStateChange(s)
	}
}

// State returns the current lifecycle state.
func (p *PeerConnection) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connect performs the SDP offer/answer exchange and wires the channel
// handlers. It returns once the remote description is applied; the data
// channel opens asynchronously.
func (p *PeerConnection) Connect(ctx context.Context) error {
	p.setState(StateConnecting)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		p.setState(StateDisconnected)
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	mic, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "microphone",
	)
	if err != nil {
		pc.Close()
		p.setState(StateDisconnected)
		return fmt.Errorf("failed to create mic track: %w", err)
	}
	sender, err := pc.AddTrack(mic)
	if err != nil {
		pc.Close()
		p.setState(StateDisconnected)
		return fmt.Errorf("failed to add mic track: %w", err)
	}
	go drainRTCP(sender)

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		p.setState(StateDisconnected)
		return fmt.Errorf("failed to create data channel: %w", err)
	}

	dc.OnOpen(func() {
		slog.Info("transport: data channel open", "label", dataChannelLabel)
		p.openOnce.Do(func() { close(p.dcOpen) })
		p.setState(StateConnected)
		if p.callbacks.OnChannelOpen != nil {
			p.callbacks.OnChannelOpen(p.Send)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.callbacks.OnMessage != nil {
			p.callbacks.OnMessage(msg.Data)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		id := track.ID()
		p.mu.Lock()
		if p.seenTracks[id] {
			p.mu.Unlock()
			slog.Debug("transport: duplicate remote track ignored", "track", id)
			return
		}
		p.seenTracks[id] = true
		p.mu.Unlock()

		slog.Info("transport: remote audio track", "track", id, "codec", track.Codec().MimeType)
		if p.callbacks.OnRemoteTrack != nil {
			p.callbacks.OnRemoteTrack(id)
		}
		go drainTrack(track)
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		slog.Debug("transport: ice state", "state", s.String())
		if s == webrtc.ICEConnectionStateFailed {
			slog.Warn("transport: ice failed, reconnect needed")
			p.setState(StateDisconnected)
			if p.callbacks.OnReconnectNeeded != nil {
				p.callbacks.OnReconnectNeeded()
			}
		}
	})

	p.mu.Lock()
	p.pc = pc
	p.dc = dc
	p.micTrack = mic
	p.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	answerSDP, err := p.exchangeSDP(ctx, pc.LocalDescription().SDP)
	if err != nil {
		p.setState(StateDisconnected)
		return err
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		p.setState(StateDisconnected)
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (p *PeerConnection) exchangeSDP(ctx context.Context, offerSDP string) (string, error) {
	url := p.baseURL
	if p.model != "" {
		url += "?model=" + p.model
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("failed to build sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.ephemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sdp exchange failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.UpstreamRequestDuration.WithLabelValues("realtime-sdp", fmt.Sprint(resp.StatusCode)).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read sdp answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("sdp exchange returned status %d", resp.StatusCode)
	}
	return string(body), nil
}

// Send writes one frame to the control channel.
func (p *PeerConnection) Send(frame []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("data channel not created")
	}
	if err := dc.SendText(string(frame)); err != nil {
		return fmt.Errorf("data channel send failed: %w", err)
	}
	return nil
}

// WaitForDataChannelOpen blocks until the control channel opens or the
// timeout elapses.
func (p *PeerConnection) WaitForDataChannelOpen(timeout time.Duration) bool {
	select {
	case <-p.dcOpen:
		return true
	case <-time.After(timeout):
		return false
	}
}

// SetMicEnabled gates outgoing audio. Frames written while disabled are
// dropped so press-to-talk controls exactly what the model hears.
func (p *PeerConnection) SetMicEnabled(enabled bool) {
	p.mu.Lock()
	p.micEnabled = enabled
	p.mu.Unlock()
}

// MicEnabled reports the current gate state.
func (p *PeerConnection) MicEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.micEnabled
}

// WriteAudioFrame sends one encoded opus frame when the mic gate is open.
func (p *PeerConnection) WriteAudioFrame(data []byte, duration time.Duration) error {
	p.mu.Lock()
	enabled := p.micEnabled
	track := p.micTrack
	p.mu.Unlock()
	if !enabled || track == nil {
		return nil
	}
	if err := track.WriteSample(media.Sample{Data: data, Duration: duration}); err != nil {
		return fmt.Errorf("failed to write audio frame: %w", err)
	}
	return nil
}

// Close tears the connection down.
func (p *PeerConnection) Close() error {
	p.mu.Lock()
	pc := p.pc
	p.pc = nil
	p.state = StateClosed
	p.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
