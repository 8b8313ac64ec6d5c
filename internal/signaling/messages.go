package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/groupcast/groupcast/internal/media"
	"github.com/groupcast/groupcast/internal/room"
)

type eventType string

const (
	eventJoinRoom         eventType = "joinRoom"
	eventReceiveVideoFrom eventType = "receiveVideoFrom"
	eventCandidate        eventType = "candidate"
	eventLeaveRoom        eventType = "leaveRoom"

	eventNewParticipantArrived eventType = "newParticipantArrived"
	eventExistingParticipants  eventType = "existingParticipants"
	eventReceiveVideoAnswer    eventType = "receiveVideoAnswer"
	eventParticipantLeft       eventType = "participantLeft"
	eventError                 eventType = "error"
)

// Protocol error codes carried in the outbound error event.
const (
	errCodeNotJoined      = "not_joined"
	errCodeAlreadyJoined  = "already_joined"
	errCodeInvalidMessage = "invalid_message"
)

// clientMessage is every inbound event; validate() enforces the per-event
// required fields.
type clientMessage struct {
	Event eventType `json:"event"`

	// joinRoom
	UserName string `json:"userName,omitempty"`

	// joinRoom, receiveVideoFrom, candidate
	RoomName string `json:"roomName,omitempty"`

	// receiveVideoFrom, candidate: the id of the participant whose stream the
	// message refers to (the sender's own id for its outgoing relay).
	UserID string `json:"userid,omitempty"`

	// receiveVideoFrom
	SDPOffer string `json:"sdpOffer,omitempty"`

	// candidate
	Candidate *media.ICECandidate `json:"candidate,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Event {
	case eventJoinRoom:
		if m.UserName == "" {
			return fmt.Errorf("joinRoom missing userName")
		}
		if m.RoomName == "" {
			return fmt.Errorf("joinRoom missing roomName")
		}
		if m.UserID != "" || m.SDPOffer != "" || m.Candidate != nil {
			return fmt.Errorf("joinRoom has unexpected fields")
		}
	case eventReceiveVideoFrom:
		if m.UserID == "" {
			return fmt.Errorf("receiveVideoFrom missing userid")
		}
		if m.SDPOffer == "" {
			return fmt.Errorf("receiveVideoFrom missing sdpOffer")
		}
		if m.UserName != "" || m.Candidate != nil {
			return fmt.Errorf("receiveVideoFrom has unexpected fields")
		}
	case eventCandidate:
		if m.UserID == "" {
			return fmt.Errorf("candidate missing userid")
		}
		if m.Candidate == nil {
			return fmt.Errorf("candidate missing candidate")
		}
		if m.UserName != "" || m.SDPOffer != "" {
			return fmt.Errorf("candidate has unexpected fields")
		}
	case eventLeaveRoom:
		if m.UserName != "" || m.RoomName != "" || m.UserID != "" || m.SDPOffer != "" || m.Candidate != nil {
			return fmt.Errorf("leaveRoom has unexpected fields")
		}
	case "":
		return fmt.Errorf("missing event")
	default:
		return fmt.Errorf("unknown event %q", m.Event)
	}
	return nil
}

type newParticipantArrivedMessage struct {
	Event    eventType `json:"event"`
	UserID   string    `json:"userid"`
	UserName string    `json:"username"`
}

type existingParticipantsMessage struct {
	Event eventType `json:"event"`
	// ExistingUsers never includes the receiver and marshals as [] when the
	// receiver is alone.
	ExistingUsers []room.ParticipantInfo `json:"existingUsers"`
	UserID        string                 `json:"userid"`
}

type receiveVideoAnswerMessage struct {
	Event     eventType `json:"event"`
	SenderID  string    `json:"senderid"`
	SDPAnswer string    `json:"sdpAnswer"`
}

type candidateMessage struct {
	Event     eventType          `json:"event"`
	UserID    string             `json:"userid"`
	Candidate media.ICECandidate `json:"candidate"`
}

type participantLeftMessage struct {
	Event  eventType `json:"event"`
	UserID string    `json:"userid"`
}

type errorMessage struct {
	Event   eventType `json:"event"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}
