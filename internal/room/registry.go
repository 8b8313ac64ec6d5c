package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/groupcast/groupcast/internal/media"
	"github.com/groupcast/groupcast/internal/metrics"
)

// Registry owns every live Room. It is created at process start and injected
// into the signaling layer; transport-level connection state is never
// consulted to decide whether a room exists.
type Registry struct {
	engine  media.Engine
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(engine media.Engine, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		engine:  engine,
		log:     logger,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// GetOrCreate returns the room with the given id, creating it and
// provisioning its media pipeline on first use. Provisioning is serialized
// by the room's own lock, so concurrent joins to a brand-new room get the
// same single pipeline. On provisioning failure the room is unregistered
// before the error is returned; later joiners start from scratch.
func (reg *Registry) GetOrCreate(ctx context.Context, id string) (*Room, error) {
	for {
		reg.mu.Lock()
		r, ok := reg.rooms[id]
		if !ok {
			r = newRoom(id, reg)
			reg.rooms[id] = r
			reg.metrics.Inc(metrics.RoomCreated)
		}
		reg.mu.Unlock()

		r.mu.Lock()
		if r.closed {
			// Lost a race with last-participant teardown; the registry entry is
			// gone or about to be. Start over with a fresh room.
			r.mu.Unlock()
			reg.remove(r)
			continue
		}
		if r.pipeline == nil {
			p, err := reg.engine.CreatePipeline(ctx)
			if err != nil {
				r.closed = true
				r.mu.Unlock()
				reg.remove(r)
				reg.metrics.Inc(metrics.EngineError)
				return nil, fmt.Errorf("provision pipeline for room %q: %w", id, err)
			}
			r.pipeline = p
			reg.metrics.Inc(metrics.PipelineCreated)
			reg.log.Info("pipeline provisioned", "room", id)
		}
		r.mu.Unlock()
		return r, nil
	}
}

// Get returns an existing room without creating one.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// Join is the one-shot used by the signaling layer: room lookup/creation and
// participant registration, retried if the room is torn down in between.
func (reg *Registry) Join(ctx context.Context, roomID, id, name string, sink EventSink) (*Room, error) {
	for {
		r, err := reg.GetOrCreate(ctx, roomID)
		if err != nil {
			return nil, err
		}
		err = r.Join(ctx, id, name, sink)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// remove drops the room from the registry if it is still the registered
// instance for its id.
func (reg *Registry) remove(r *Room) {
	reg.mu.Lock()
	if cur, ok := reg.rooms[r.id]; ok && cur == r {
		delete(reg.rooms, r.id)
	}
	reg.mu.Unlock()
}

// Close tears down every live room. Used on shutdown.
func (reg *Registry) Close() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		ids := make([]string, 0, len(r.participants))
		for id := range r.participants {
			ids = append(ids, id)
		}
		r.mu.Unlock()
		for _, id := range ids {
			r.Leave(id)
		}
	}
}

// RoomCount reports the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
