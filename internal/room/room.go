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

var (
	ErrRoomClosed        = errors.New("room closed")
	ErrNoSuchParticipant = errors.New("no such participant")
	ErrAlreadyJoined     = errors.New("participant already joined")
)

// maxPendingCandidates bounds each per-target candidate buffer. Candidates
// beyond the cap are dropped and counted; a well-behaved client gathers far
// fewer before its relay exists.
const maxPendingCandidates = 64

// endpoint pairs a relay with the teardown of its candidate subscription.
type endpoint struct {
	relay media.Relay
	unsub func()
}

func (e endpoint) release() {
	if e.unsub != nil {
		e.unsub()
	}
	if e.relay != nil {
		_ = e.relay.Release()
	}
}

type participant struct {
	id   string
	name string
	sink EventSink

	outgoing endpoint
	// incoming maps a peer id to the relay receiving that peer's stream on
	// behalf of this participant.
	incoming map[string]endpoint
}

// Room is one conferencing session: a media pipeline plus the directed
// graph of relays between its participants.
type Room struct {
	id       string
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	closed       bool
	pipeline     media.Pipeline
	participants map[string]*participant
	// pending buffers ICE candidates keyed by the id of a relay target that
	// does not exist yet. An entry is deleted atomically when first drained.
	pending map[string][]media.ICECandidate
}

func newRoom(id string, reg *Registry) *Room {
	return &Room{
		id:           id,
		registry:     reg,
		log:          reg.log.With("room", id),
		metrics:      reg.metrics,
		participants: make(map[string]*participant),
		pending:      make(map[string][]media.ICECandidate),
	}
}

func (r *Room) ID() string { return r.id }

// Join registers a participant: creates its outgoing relay on the room's
// pipeline, drains any candidates buffered under its id, announces it to the
// rest of the room and replies with the pre-join membership snapshot.
//
// After the announcement every existing participant's incoming relay for the
// newcomer is provisioned and connected from the newcomer's outgoing relay.
// Bootstrap failures are logged per peer and do not abort the join; the pair
// is retried lazily when that peer requests video.
func (r *Room) Join(ctx context.Context, id, name string, sink EventSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.participants[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, id)
	}

	out, err := r.pipeline.CreateRelay(ctx)
	if err != nil {
		r.metrics.Inc(metrics.EngineError)
		return fmt.Errorf("create outgoing relay for %s: %w", id, err)
	}
	r.metrics.Inc(metrics.RelayCreated)

	p := &participant{
		id:       id,
		name:     name,
		sink:     sink,
		incoming: make(map[string]endpoint),
	}
	r.drainLocked(id, out)
	p.outgoing = endpoint{
		relay: out,
		unsub: out.OnCandidateFound(func(c media.ICECandidate) {
			sink.CandidateFound(id, c)
		}),
	}

	existing := make([]ParticipantInfo, 0, len(r.participants))
	peers := make([]*participant, 0, len(r.participants))
	for _, other := range r.participants {
		existing = append(existing, ParticipantInfo{ID: other.id, Name: other.name})
		peers = append(peers, other)
	}

	for _, other := range peers {
		other.sink.NewParticipantArrived(id, name)
	}
	sink.ExistingParticipants(id, existing)

	r.participants[id] = p
	r.metrics.Inc(metrics.ParticipantJoin)
	r.log.Info("participant joined", "participant", id, "name", name, "peers", len(peers))

	for _, other := range peers {
		if _, err := r.incomingRelayLocked(ctx, other, p); err != nil {
			r.log.Warn("bootstrap connect failed", "participant", other.id, "source", id, "err", err)
		}
	}
	return nil
}

// IncomingRelay returns the relay on which requester receives source's
// stream, creating and connecting it if needed. A self-request returns the
// requester's own outgoing relay. The call is idempotent: repeated requests
// for the same pair yield the same relay.
func (r *Room) IncomingRelay(ctx context.Context, requesterID, sourceID string) (media.Relay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomClosed
	}
	requester, ok := r.participants[requesterID]
	if !ok {
		return nil, fmt.Errorf("%w: requester %s", ErrNoSuchParticipant, requesterID)
	}
	source, ok := r.participants[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNoSuchParticipant, sourceID)
	}
	return r.incomingRelayLocked(ctx, requester, source)
}

func (r *Room) incomingRelayLocked(ctx context.Context, requester, source *participant) (media.Relay, error) {
	if requester.id == source.id {
		return requester.outgoing.relay, nil
	}

	if ep, ok := requester.incoming[source.id]; ok {
		// Re-connecting an existing pair is idempotent on the engine side.
		if err := source.outgoing.relay.ConnectTo(ep.relay); err != nil {
			r.metrics.Inc(metrics.EngineError)
			return nil, fmt.Errorf("reconnect %s -> %s: %w", source.id, requester.id, err)
		}
		return ep.relay, nil
	}

	rel, err := r.pipeline.CreateRelay(ctx)
	if err != nil {
		r.metrics.Inc(metrics.EngineError)
		return nil, fmt.Errorf("create incoming relay %s -> %s: %w", source.id, requester.id, err)
	}
	r.metrics.Inc(metrics.RelayCreated)

	r.drainLocked(source.id, rel)

	requesterID, sourceID := requester.id, source.id
	sink := requester.sink
	ep := endpoint{
		relay: rel,
		unsub: rel.OnCandidateFound(func(c media.ICECandidate) {
			sink.CandidateFound(sourceID, c)
		}),
	}

	if err := source.outgoing.relay.ConnectTo(rel); err != nil {
		ep.release()
		r.metrics.Inc(metrics.EngineError)
		r.metrics.Inc(metrics.RelayReleased)
		return nil, fmt.Errorf("connect %s -> %s: %w", sourceID, requesterID, err)
	}

	requester.incoming[sourceID] = ep
	return rel, nil
}

// RouteCandidate applies an ICE candidate from the participant identified by
// selfID to the relay addressed by targetID: the participant's own outgoing
// relay when targetID == selfID, otherwise the incoming relay keyed by
// targetID. When the target relay (or the participant itself) does not exist
// yet, the candidate is buffered under targetID.
//
// Candidates legitimately race relay creation and teardown, so missing state
// is never an error.
func (r *Room) RouteCandidate(selfID, targetID string, c media.ICECandidate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	p, ok := r.participants[selfID]
	if !ok {
		// The sender has not joined yet (or already left). Buffer so a
		// candidate gathered before the join survives until the relay exists.
		r.enqueueLocked(targetID, c)
		return
	}

	var target media.Relay
	if targetID == p.id {
		target = p.outgoing.relay
	} else if ep, ok := p.incoming[targetID]; ok {
		target = ep.relay
	}

	if target == nil {
		r.enqueueLocked(targetID, c)
		return
	}
	if err := target.AddICECandidate(c); err != nil {
		r.metrics.Inc(metrics.EngineError)
		r.log.Warn("apply candidate failed", "participant", selfID, "target", targetID, "err", err)
		return
	}
	r.metrics.Inc(metrics.CandidateApplied)
}

func (r *Room) enqueueLocked(targetID string, c media.ICECandidate) {
	q := r.pending[targetID]
	if len(q) >= maxPendingCandidates {
		r.metrics.Inc(metrics.CandidateDropped)
		r.log.Warn("candidate buffer full", "target", targetID)
		return
	}
	r.pending[targetID] = append(q, c)
	r.metrics.Inc(metrics.CandidateQueued)
}

// drainLocked applies every candidate buffered under targetID to rel in
// arrival order, then deletes the buffer. Deleting under the room lock
// guarantees a candidate can never slip between relay creation and drain.
func (r *Room) drainLocked(targetID string, rel media.Relay) {
	q, ok := r.pending[targetID]
	if !ok {
		return
	}
	delete(r.pending, targetID)
	for _, c := range q {
		if err := rel.AddICECandidate(c); err != nil {
			r.metrics.Inc(metrics.EngineError)
			r.log.Warn("apply buffered candidate failed", "target", targetID, "err", err)
			continue
		}
		r.metrics.Inc(metrics.CandidateFlushed)
	}
}

// Leave removes the participant: releases its outgoing relay, removes and
// releases its entry in every peer's incoming map, drops its buffered
// candidates and notifies the remaining participants. The room is torn down
// when its last participant leaves. Unknown ids are a no-op.
func (r *Room) Leave(id string) {
	r.mu.Lock()

	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.participants, id)
	delete(r.pending, id)

	p.outgoing.release()
	r.metrics.Inc(metrics.RelayReleased)
	for _, ep := range p.incoming {
		ep.release()
		r.metrics.Inc(metrics.RelayReleased)
	}

	for _, other := range r.participants {
		if ep, ok := other.incoming[id]; ok {
			ep.release()
			delete(other.incoming, id)
			r.metrics.Inc(metrics.RelayReleased)
		}
		other.sink.ParticipantLeft(id)
	}

	r.metrics.Inc(metrics.ParticipantLeave)
	r.log.Info("participant left", "participant", id, "remaining", len(r.participants))

	empty := len(r.participants) == 0
	if empty {
		r.closed = true
		if r.pipeline != nil {
			if err := r.pipeline.Release(); err != nil {
				r.metrics.Inc(metrics.EngineError)
				r.log.Warn("release pipeline failed", "err", err)
			}
		}
		r.metrics.Inc(metrics.RoomClosed)
		r.log.Info("room closed")
	}
	r.mu.Unlock()

	if empty {
		r.registry.remove(r)
	}
}

// ParticipantCount reports current membership.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}
