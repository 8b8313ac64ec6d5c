// Package mediatest provides an in-memory media.Engine for tests. Every
// object records the calls made against it and supports error injection.
package mediatest

import (
	"context"
	"sync"

	"github.com/groupcast/groupcast/internal/media"
)

type Engine struct {
	mu sync.Mutex

	// CreatePipelineErr, when set, is returned by the next CreatePipeline
	// calls until cleared.
	CreatePipelineErr error

	pipelines []*Pipeline
	closed    bool
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) CreatePipeline(ctx context.Context) (media.Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CreatePipelineErr != nil {
		return nil, e.CreatePipelineErr
	}
	p := &Pipeline{engine: e}
	e.pipelines = append(e.pipelines, p)
	return p, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) Pipelines() []*Pipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Pipeline(nil), e.pipelines...)
}

func (e *Engine) PipelineCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pipelines)
}

type Pipeline struct {
	engine *Engine

	mu sync.Mutex

	CreateRelayErr error

	relays   []*Relay
	released bool
}

func (p *Pipeline) CreateRelay(ctx context.Context) (media.Relay, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateRelayErr != nil {
		return nil, p.CreateRelayErr
	}
	r := &Relay{pipeline: p, AnswerSDP: "v=0 answer"}
	p.relays = append(p.relays, r)
	return r, nil
}

func (p *Pipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	return nil
}

func (p *Pipeline) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *Pipeline) Relays() []*Relay {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Relay(nil), p.relays...)
}

func (p *Pipeline) RelayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.relays)
}

// SetCreateRelayErr injects an error for subsequent CreateRelay calls.
func (p *Pipeline) SetCreateRelayErr(err error) {
	p.mu.Lock()
	p.CreateRelayErr = err
	p.mu.Unlock()
}

type Relay struct {
	pipeline *Pipeline

	mu sync.Mutex

	AnswerSDP       string
	ProcessOfferErr error
	ConnectErr      error
	AddCandidateErr error

	offers      []string
	candidates  []media.ICECandidate
	connectedTo []media.Relay
	gathers     int
	released    bool

	nextSub  int
	handlers map[int]func(media.ICECandidate)
}

func (r *Relay) ProcessOffer(ctx context.Context, offer string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ProcessOfferErr != nil {
		return "", r.ProcessOfferErr
	}
	r.offers = append(r.offers, offer)
	return r.AnswerSDP, nil
}

func (r *Relay) ConnectTo(other media.Relay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.connectedTo = append(r.connectedTo, other)
	return nil
}

func (r *Relay) AddICECandidate(c media.ICECandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AddCandidateErr != nil {
		return r.AddCandidateErr
	}
	r.candidates = append(r.candidates, c)
	return nil
}

func (r *Relay) GatherCandidates(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gathers++
	return nil
}

func (r *Relay) OnCandidateFound(fn func(media.ICECandidate)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[int]func(media.ICECandidate))
	}
	id := r.nextSub
	r.nextSub++
	r.handlers[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.handlers, id)
		r.mu.Unlock()
	}
}

func (r *Relay) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.handlers = nil
	return nil
}

// EmitCandidate simulates the engine discovering a local candidate.
func (r *Relay) EmitCandidate(c media.ICECandidate) {
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

func (r *Relay) Offers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.offers...)
}

func (r *Relay) Candidates() []media.ICECandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.ICECandidate(nil), r.candidates...)
}

func (r *Relay) ConnectedTo() []media.Relay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.Relay(nil), r.connectedTo...)
}

func (r *Relay) Gathers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gathers
}

func (r *Relay) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func (r *Relay) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}
