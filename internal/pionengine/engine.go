// Package pionengine is the in-process media.Engine built on pion/webrtc.
// Each relay terminates one client's WebRTC session; connected relays forward
// RTP to each other's outbound tracks, giving a minimal SFU without an
// external media server.
package pionengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/groupcast/groupcast/internal/media"
)

var ErrEngineClosed = errors.New("pionengine: engine closed")

type Engine struct {
	api *webrtc.API
	log *slog.Logger

	mu        sync.Mutex
	pipelines []*pipeline
	closed    bool
}

func New(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{
		LoggerFactory: loggerFactory{log: logger.With("component", "pion")},
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	return &Engine{api: api, log: logger}, nil
}

func (e *Engine) CreatePipeline(ctx context.Context) (media.Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	p := &pipeline{engine: e}
	e.pipelines = append(e.pipelines, p)
	return p, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pipelines := e.pipelines
	e.pipelines = nil
	e.mu.Unlock()

	for _, p := range pipelines {
		_ = p.Release()
	}
	return nil
}

// pipeline groups the relays of one room. In-process there is no engine-side
// pipeline object; the grouping exists for uniform teardown.
type pipeline struct {
	engine *Engine

	mu     sync.Mutex
	relays []*relay
	closed bool
}

func (p *pipeline) CreateRelay(ctx context.Context) (media.Relay, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrEngineClosed
	}
	p.mu.Unlock()

	pc, err := p.engine.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	r := &relay{
		pc:       pc,
		log:      p.engine.log,
		outbound: make(map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP),
		handlers: make(map[int]func(media.ICECandidate)),
	}

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "groupcast",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "groupcast",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}
	r.outbound[webrtc.RTPCodecTypeAudio] = audio
	r.outbound[webrtc.RTPCodecTypeVideo] = video

	for _, track := range []*webrtc.TrackLocalStaticRTP{audio, video} {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		r.emitCandidate(media.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.pumpTrack(track)
	})

	p.mu.Lock()
	p.relays = append(p.relays, r)
	p.mu.Unlock()
	return r, nil
}

func (p *pipeline) Release() error {
	p.mu.Lock()
	p.closed = true
	relays := p.relays
	p.relays = nil
	p.mu.Unlock()

	for _, r := range relays {
		_ = r.Release()
	}
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type relay struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	// outbound holds the tracks this relay sends to its own client; connected
	// source relays write the forwarded RTP into them.
	outbound map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP

	mu sync.Mutex
	// sinks are the relays receiving this relay's inbound stream.
	sinks []*relay
	// pendingCandidates buffers remote candidates that arrive before the
	// remote description is set; pion rejects them otherwise.
	pendingCandidates []media.ICECandidate
	handlers          map[int]func(media.ICECandidate)
	nextSub           int
	released          bool
}

func (r *relay) ProcessOffer(ctx context.Context, offer string) (string, error) {
	if err := r.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	r.mu.Lock()
	pending := r.pendingCandidates
	r.pendingCandidates = nil
	r.mu.Unlock()
	for _, c := range pending {
		if err := r.applyCandidate(c); err != nil {
			r.log.Warn("apply buffered candidate failed", "err", err)
		}
	}

	answer, err := r.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	// Candidates trickle through OnICECandidate once the local description is
	// set; the answer is returned immediately.
	if err := r.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (r *relay) ConnectTo(other media.Relay) error {
	sink, ok := other.(*relay)
	if !ok {
		return fmt.Errorf("connect: %T is not an in-process relay", other)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrEngineClosed
	}
	for _, existing := range r.sinks {
		if existing == sink {
			return nil
		}
	}
	r.sinks = append(r.sinks, sink)
	return nil
}

func (r *relay) AddICECandidate(c media.ICECandidate) error {
	if r.pc.RemoteDescription() == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.pendingCandidates = append(r.pendingCandidates, c)
		return nil
	}
	return r.applyCandidate(c)
}

func (r *relay) applyCandidate(c media.ICECandidate) error {
	return r.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

// GatherCandidates is a no-op: gathering starts when the local description is
// set and candidates are delivered through the subscription.
func (r *relay) GatherCandidates(ctx context.Context) error {
	return nil
}

func (r *relay) OnCandidateFound(fn func(media.ICECandidate)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.handlers[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.handlers, id)
		r.mu.Unlock()
	}
}

func (r *relay) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.sinks = nil
	r.handlers = map[int]func(media.ICECandidate){}
	r.mu.Unlock()
	return r.pc.Close()
}

func (r *relay) emitCandidate(c media.ICECandidate) {
	r.mu.Lock()
	handlers := make([]func(media.ICECandidate), 0, len(r.handlers))
	for _, fn := range r.handlers {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()
	for _, fn := range handlers {
		fn(c)
	}
}

// pumpTrack copies RTP from this relay's client to every connected sink's
// matching outbound track.
func (r *relay) pumpTrack(track *webrtc.TrackRemote) {
	kind := track.Kind()
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}

		r.mu.Lock()
		sinks := append([]*relay(nil), r.sinks...)
		r.mu.Unlock()

		for _, sink := range sinks {
			out := sink.outbound[kind]
			if out == nil {
				continue
			}
			if _, err := out.Write(buf[:n]); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
				r.log.Debug("forward rtp failed", "kind", kind.String(), "err", err)
			}
		}
	}
}
