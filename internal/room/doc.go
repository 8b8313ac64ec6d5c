// Package room maintains the conferencing state the coordinator is
// responsible for: the registry of live rooms, each room's participant
// graph of media relays, and the buffering of ICE candidates that arrive
// before their target relay exists.
//
// All mutations of a room's state are serialized by a per-room mutex, so
// concurrent joins cannot provision two pipelines and concurrent video
// requests cannot create duplicate relays. Engine round-trips performed
// while holding the lock are bounded by collaborator-level deadlines.
package room
