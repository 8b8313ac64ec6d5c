// Package signaling implements the WebSocket protocol browser clients use to
// join conference rooms, negotiate media relays and exchange ICE candidates.
//
// Each connection carries one participant. Inbound events are JSON objects
// with an "event" discriminator; outbound notifications reuse the same
// envelope. Room state lives in the room package; this package only
// translates between the wire protocol and room operations.
package signaling
