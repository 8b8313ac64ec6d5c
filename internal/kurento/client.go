// Package kurento drives a Kurento Media Server over its JSON-RPC 2.0
// WebSocket API and exposes it as a media.Engine.
package kurento

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/groupcast/groupcast/internal/media"
)

var ErrClosed = errors.New("kurento: connection closed")

const dialTimeout = 10 * time.Second

// Options tune the client beyond the server URL.
type Options struct {
	// RPCTimeout bounds every individual JSON-RPC call.
	RPCTimeout time.Duration
	Logger     *slog.Logger
}

// Client is one JSON-RPC session with a media server. It is safe for
// concurrent use; responses are correlated to calls by request id.
type Client struct {
	log        *slog.Logger
	conn       *websocket.Conn
	rpcTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan rpcResponse
	sessionID string
	// handlers holds IceCandidateFound subscribers keyed by media object id.
	handlers map[string]map[int]func(media.ICECandidate)
	nextSub  int
	closed   bool

	done chan struct{}
}

// Dial connects to the media server and starts the response dispatch loop.
func Dial(ctx context.Context, wsURL string, opts Options) (*Client, error) {
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial media server %s: %w", wsURL, err)
	}

	c := &Client{
		log:        opts.Logger.With("component", "kurento"),
		conn:       conn,
		rpcTimeout: opts.RPCTimeout,
		pending:    make(map[uint64]chan rpcResponse),
		handlers:   make(map[string]map[int]func(media.ICECandidate)),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// CreatePipeline builds a MediaPipeline object on the server.
func (c *Client) CreatePipeline(ctx context.Context) (media.Pipeline, error) {
	result, err := c.call(ctx, "create", map[string]any{
		"type":              "MediaPipeline",
		"constructorParams": map[string]any{},
		"properties":        map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	return &pipeline{client: c, id: result.Value}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

type pipeline struct {
	client *Client
	id     string
}

// CreateRelay builds a WebRtcEndpoint inside the pipeline and subscribes to
// its IceCandidateFound events.
func (p *pipeline) CreateRelay(ctx context.Context) (media.Relay, error) {
	result, err := p.client.call(ctx, "create", map[string]any{
		"type": "WebRtcEndpoint",
		"constructorParams": map[string]any{
			"mediaPipeline": p.id,
		},
		"properties": map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("create endpoint: %w", err)
	}
	r := &relay{client: p.client, id: result.Value}

	if _, err := p.client.call(ctx, "subscribe", map[string]any{
		"object": r.id,
		"type":   "IceCandidateFound",
	}); err != nil {
		_ = r.Release()
		return nil, fmt.Errorf("subscribe endpoint events: %w", err)
	}
	return r, nil
}

func (p *pipeline) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.rpcTimeout)
	defer cancel()
	if _, err := p.client.call(ctx, "release", map[string]any{"object": p.id}); err != nil {
		return fmt.Errorf("release pipeline: %w", err)
	}
	return nil
}

type relay struct {
	client *Client
	id     string
}

func (r *relay) ProcessOffer(ctx context.Context, offer string) (string, error) {
	result, err := r.client.call(ctx, "invoke", map[string]any{
		"object":          r.id,
		"operation":       "processOffer",
		"operationParams": map[string]any{"offer": offer},
	})
	if err != nil {
		return "", fmt.Errorf("process offer: %w", err)
	}
	return result.Value, nil
}

func (r *relay) ConnectTo(other media.Relay) error {
	sink, ok := other.(*relay)
	if !ok {
		return fmt.Errorf("connect: %T is not a kurento relay", other)
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.client.rpcTimeout)
	defer cancel()
	if _, err := r.client.call(ctx, "invoke", map[string]any{
		"object":          r.id,
		"operation":       "connect",
		"operationParams": map[string]any{"sink": sink.id},
	}); err != nil {
		return fmt.Errorf("connect endpoints: %w", err)
	}
	return nil
}

func (r *relay) AddICECandidate(c media.ICECandidate) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.client.rpcTimeout)
	defer cancel()
	if _, err := r.client.call(ctx, "invoke", map[string]any{
		"object":          r.id,
		"operation":       "addIceCandidate",
		"operationParams": map[string]any{"candidate": c},
	}); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (r *relay) GatherCandidates(ctx context.Context) error {
	if _, err := r.client.call(ctx, "invoke", map[string]any{
		"object":          r.id,
		"operation":       "gatherCandidates",
		"operationParams": map[string]any{},
	}); err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}
	return nil
}

func (r *relay) OnCandidateFound(fn func(media.ICECandidate)) func() {
	c := r.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[r.id] == nil {
		c.handlers[r.id] = make(map[int]func(media.ICECandidate))
	}
	id := c.nextSub
	c.nextSub++
	c.handlers[r.id][id] = fn
	objectID := r.id
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[objectID], id)
		if len(c.handlers[objectID]) == 0 {
			delete(c.handlers, objectID)
		}
	}
}

func (r *relay) Release() error {
	c := r.client
	c.mu.Lock()
	delete(c.handlers, r.id)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.rpcTimeout)
	defer cancel()
	if _, err := c.call(ctx, "release", map[string]any{"object": r.id}); err != nil {
		return fmt.Errorf("release endpoint: %w", err)
	}
	return nil
}
