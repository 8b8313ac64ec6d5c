package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/groupcast/groupcast/internal/config"
	"github.com/groupcast/groupcast/internal/media"
	"github.com/groupcast/groupcast/internal/metrics"
	"github.com/groupcast/groupcast/internal/ratelimit"
	"github.com/groupcast/groupcast/internal/room"
)

const wsWriteWait = 1 * time.Second

// Server terminates signaling WebSocket connections. One connection carries
// one participant for its lifetime; the participant id is minted here.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	rooms   *room.Registry
	metrics *metrics.Metrics

	// Clock feeds the per-session rate limiter. Tests inject a fake.
	Clock ratelimit.Clock

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func New(cfg config.Config, logger *slog.Logger, rooms *room.Registry, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		log:     logger,
		rooms:   rooms,
		metrics: m,
		Clock:   ratelimit.RealClock{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := &session{
		srv:  s,
		conn: conn,
		id:   uuid.NewString(),
	}
	sess.log = s.log.With("session", sess.id, "remote_addr", r.RemoteAddr)

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	sess.run()

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Close force-closes every live connection. Each session's read loop then
// exits and runs its normal leave path.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.conn.Close()
	}
}

// session is one connected client. It implements room.EventSink; the sink
// callbacks only write to the connection and never call back into the room.
type session struct {
	srv  *Server
	conn *websocket.Conn
	log  *slog.Logger
	id   string

	writeMu sync.Mutex

	mu     sync.Mutex
	joined bool
	name   string
	room   *room.Room
}

func (s *session) run() {
	defer s.conn.Close()
	defer s.leaveIfJoined()

	cfg := s.srv.cfg
	s.conn.SetReadLimit(cfg.MaxSignalingMessageBytes)

	if cfg.SignalingWSIdleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))
		})
	}
	if cfg.SignalingWSPingInterval > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go s.pingLoop(stop, cfg.SignalingWSPingInterval)
	}

	var limiter *ratelimit.TokenBucket
	if cfg.MaxSignalingMessagesPerSecond > 0 {
		limiter = ratelimit.NewTokenBucket(float64(cfg.MaxSignalingMessagesPerSecond), s.srv.Clock)
	}

	s.log.Debug("session connected")

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("session read failed", "err", err)
			}
			return
		}
		if cfg.SignalingWSIdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))
		}
		if msgType != websocket.TextMessage {
			s.fail(errCodeInvalidMessage, "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if limiter != nil && !limiter.Allow() {
			s.srv.metrics.Inc(metrics.RateLimited)
			s.writeClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			s.srv.metrics.Inc(metrics.ProtocolError)
			s.fail(errCodeInvalidMessage, err.Error(), websocket.ClosePolicyViolation, "invalid message")
			return
		}

		switch msg.Event {
		case eventJoinRoom:
			s.handleJoinRoom(msg)
		case eventReceiveVideoFrom:
			s.handleReceiveVideoFrom(msg)
		case eventCandidate:
			s.handleCandidate(msg)
		case eventLeaveRoom:
			s.leaveIfJoined()
		}
	}
}

func (s *session) pingLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *session) handleJoinRoom(msg clientMessage) {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		s.srv.metrics.Inc(metrics.ProtocolError)
		s.sendError(errCodeAlreadyJoined, "already in a room")
		return
	}
	s.mu.Unlock()

	r, err := s.srv.rooms.Join(context.Background(), msg.RoomName, s.id, msg.UserName, s)
	if err != nil {
		// The client stays unjoined and may retry with another joinRoom.
		s.log.Error("join failed", "room", msg.RoomName, "name", msg.UserName, "err", err)
		return
	}

	s.mu.Lock()
	s.joined = true
	s.name = msg.UserName
	s.room = r
	s.mu.Unlock()
}

func (s *session) handleReceiveVideoFrom(msg clientMessage) {
	s.mu.Lock()
	joined, r := s.joined, s.room
	s.mu.Unlock()

	if !joined {
		s.srv.metrics.Inc(metrics.ProtocolError)
		s.sendError(errCodeNotJoined, "join a room before requesting video")
		return
	}

	ctx := context.Background()
	rel, err := r.IncomingRelay(ctx, s.id, msg.UserID)
	if err != nil {
		if errors.Is(err, room.ErrNoSuchParticipant) || errors.Is(err, room.ErrRoomClosed) {
			s.log.Debug("receiveVideoFrom for missing state", "source", msg.UserID, "err", err)
			return
		}
		s.log.Error("incoming relay failed", "source", msg.UserID, "err", err)
		return
	}

	answer, err := rel.ProcessOffer(ctx, msg.SDPOffer)
	if err != nil {
		s.srv.metrics.Inc(metrics.EngineError)
		s.log.Error("process offer failed", "source", msg.UserID, "err", err)
		return
	}

	s.send(receiveVideoAnswerMessage{
		Event:     eventReceiveVideoAnswer,
		SenderID:  msg.UserID,
		SDPAnswer: answer,
	})

	// Gathering starts only after the answer is on the wire; discovered
	// candidates flow through the sink.
	go func() {
		if err := rel.GatherCandidates(ctx); err != nil {
			s.log.Warn("gather candidates failed", "source", msg.UserID, "err", err)
		}
	}()
}

func (s *session) handleCandidate(msg clientMessage) {
	s.mu.Lock()
	joined, r := s.joined, s.room
	s.mu.Unlock()

	if joined {
		r.RouteCandidate(s.id, msg.UserID, *msg.Candidate)
		return
	}

	// Pre-join candidates are routed by room name so they can buffer under
	// their target id until that relay exists. No room, no-op: candidates
	// legitimately race membership changes.
	if msg.RoomName == "" {
		return
	}
	if pre, ok := s.srv.rooms.Get(msg.RoomName); ok {
		pre.RouteCandidate("", msg.UserID, *msg.Candidate)
	}
}

func (s *session) leaveIfJoined() {
	s.mu.Lock()
	joined, r := s.joined, s.room
	s.joined = false
	s.room = nil
	s.mu.Unlock()

	if joined {
		r.Leave(s.id)
	}
}

// EventSink implementation. Writes are serialized by writeMu, so callbacks
// firing under the room lock cannot interleave partial frames.

func (s *session) NewParticipantArrived(id, name string) {
	s.send(newParticipantArrivedMessage{
		Event:    eventNewParticipantArrived,
		UserID:   id,
		UserName: name,
	})
}

func (s *session) ExistingParticipants(selfID string, existing []room.ParticipantInfo) {
	if existing == nil {
		existing = []room.ParticipantInfo{}
	}
	s.send(existingParticipantsMessage{
		Event:         eventExistingParticipants,
		ExistingUsers: existing,
		UserID:        selfID,
	})
}

func (s *session) ParticipantLeft(id string) {
	s.send(participantLeftMessage{
		Event:  eventParticipantLeft,
		UserID: id,
	})
}

func (s *session) CandidateFound(peerID string, c media.ICECandidate) {
	s.send(candidateMessage{
		Event:     eventCandidate,
		UserID:    peerID,
		Candidate: c,
	})
}

func (s *session) send(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug("write failed", "err", err)
	}
}

func (s *session) sendError(code, message string) {
	s.send(errorMessage{Event: eventError, Code: code, Message: message})
}

// fail sends a structured error event and then closes the connection with the
// given close code.
func (s *session) fail(code, message string, closeCode int, reason string) {
	s.sendError(code, message)
	s.writeClose(closeCode, reason)
}

func (s *session) writeClose(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
