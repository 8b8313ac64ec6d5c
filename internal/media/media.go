// Package media defines the capability groupcast requires from a
// media-processing engine.
//
// The coordinator never touches RTP itself: mixing, codecs and transport are
// the engine's job. Two production implementations exist (a Kurento JSON-RPC
// client and an embedded pion-based engine) plus a fake in mediatest.
package media

import "context"

// ICECandidate is a network path descriptor exchanged during connection
// establishment. The JSON field names are the wire shape browsers produce.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Engine creates media pipelines. Implementations must be safe for
// concurrent use.
type Engine interface {
	CreatePipeline(ctx context.Context) (Pipeline, error)

	// Close releases the engine connection and every object created through it.
	Close() error
}

// Pipeline scopes a set of relay endpoints that may be connected to one
// another. groupcast provisions exactly one pipeline per room.
type Pipeline interface {
	CreateRelay(ctx context.Context) (Relay, error)

	// Release destroys the pipeline and every relay created on it.
	Release() error
}

// Relay is one WebRTC-terminating endpoint inside a pipeline: either a
// participant's published stream or one peer's stream received on behalf of
// another participant.
type Relay interface {
	// ProcessOffer feeds the client's SDP offer to the endpoint and returns
	// the engine's answer.
	ProcessOffer(ctx context.Context, offer string) (string, error)

	// ConnectTo attaches this relay's media output to the given relay.
	// Connecting an already-connected pair is a no-op.
	ConnectTo(other Relay) error

	AddICECandidate(c ICECandidate) error

	// GatherCandidates starts local ICE candidate discovery. Discovered
	// candidates are delivered to OnCandidateFound subscribers.
	GatherCandidates(ctx context.Context) error

	// OnCandidateFound subscribes fn to locally discovered candidates. The
	// returned function removes the subscription; Release implies removal.
	OnCandidateFound(fn func(ICECandidate)) (unsubscribe func())

	Release() error
}
