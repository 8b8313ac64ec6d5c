package room

import "github.com/groupcast/groupcast/internal/media"

// ParticipantInfo is the membership entry shared with clients.
type ParticipantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EventSink receives the outbound notifications addressed to one
// participant. The signaling session implements it over the participant's
// WebSocket connection.
//
// Callbacks may run while the room lock is held and must not call back into
// the room or registry.
type EventSink interface {
	// NewParticipantArrived announces another participant joining the room.
	NewParticipantArrived(id, name string)

	// ExistingParticipants delivers the membership snapshot computed before
	// the receiving participant was inserted. existing never includes the
	// receiver and is never nil.
	ExistingParticipants(selfID string, existing []ParticipantInfo)

	// ParticipantLeft announces a departure.
	ParticipantLeft(id string)

	// CandidateFound forwards an ICE candidate discovered by a relay owned by
	// the receiver, labeled with the id of the relay's associated peer (the
	// receiver's own id for its outgoing relay).
	CandidateFound(peerID string, c media.ICECandidate)
}
