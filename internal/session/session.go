package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "collaborative-document-server/internal/errors"
	"collaborative-document-server/internal/room"
	"collaborative-document-server/internal/user"
)

// Transport is the raw connection a session speaks over. Satisfied by
// *websocket.Conn; tests substitute an in-memory pipe.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Acknowledge string          `json:"acknowledge,omitempty"`
}

// Session is one authenticated live connection. A session is
// subscribed to at most one room at a time; joining a new room leaves
// the previous one, and disconnecting leaves it too.
type Session struct {
	ID    string
	User  *user.User
	conn  Transport
	rooms *room.Broadcaster
	log   zerolog.Logger

	mu   sync.Mutex // guards conn writes and the current room
	room string
}

func NewSession(u *user.User, conn Transport, rooms *room.Broadcaster, log zerolog.Logger) *Session {
	return &Session{
		ID:    uuid.NewString(),
		User:  u,
		conn:  conn,
		rooms: rooms,
		log:   log,
	}
}

// Send writes one envelope to the client.
func (s *Session) Send(msgType string, payload any, ack string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Type: msgType, Payload: raw, Acknowledge: ack})
}

// SendOutcome replies to reqType with "<reqType>.<outcome>".
func (s *Session) SendOutcome(reqType string, outcome apperrors.Outcome, payload any, ack string) error {
	return s.Send(reqType+"."+string(outcome), payload, ack)
}

// Join subscribes the session to roomName, leaving any prior room
// first.
func (s *Session) Join(roomName string) {
	s.mu.Lock()
	prev := s.room
	s.room = roomName
	s.mu.Unlock()

	if prev != "" && prev != roomName {
		s.rooms.Unsubscribe(prev, s.ID)
	}
	s.rooms.Subscribe(roomName, s.ID, s.deliver)
}

// Leave unsubscribes from the current room, if any.
func (s *Session) Leave() {
	s.mu.Lock()
	prev := s.room
	s.room = ""
	s.mu.Unlock()

	if prev != "" {
		s.rooms.Unsubscribe(prev, s.ID)
	}
}

// Room returns the currently joined room, or "".
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Publish fans payload out to roomName. Mode "emit" reaches every
// subscriber including this session; "broadcast" reaches everyone
// else.
func (s *Session) Publish(roomName, mode, msgType string, payload any, ack string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.rooms.Publish(roomName, room.Message{
		Origin:      s.ID,
		Mode:        mode,
		Type:        msgType,
		Payload:     raw,
		Acknowledge: ack,
	})
	return nil
}

// EmitRoom publishes to the session's current room, echoing back to
// this session as well.
func (s *Session) EmitRoom(msgType string, payload any, ack string) error {
	return s.Publish(s.Room(), room.ModeEmit, msgType, payload, ack)
}

// BroadcastRoom publishes to the session's current room, excluding
// this session.
func (s *Session) BroadcastRoom(msgType string, payload any, ack string) error {
	return s.Publish(s.Room(), room.ModeBroadcast, msgType, payload, ack)
}

// deliver is the room callback: it relays a room message onto this
// session's connection, honoring the broadcast origin filter.
func (s *Session) deliver(msg room.Message) {
	if msg.Mode == room.ModeBroadcast && msg.Origin == s.ID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(Envelope{Type: msg.Type, Payload: msg.Payload, Acknowledge: msg.Acknowledge}); err != nil {
		s.log.Warn().Err(err).Str("session", s.ID).Msg("room delivery failed")
	}
}

// Run reads messages until the connection drops and dispatches them
// through the router. Protocol-level garbage is logged and skipped.
func (s *Session) Run(ctx context.Context, router *Router) {
	defer s.Close()

	for {
		_, buf, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info().Str("session", s.ID).Msg("session closed")
			} else {
				s.log.Warn().Err(err).Str("session", s.ID).Msg("session read failed")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(buf, &env); err != nil || env.Type == "" {
			s.log.Warn().Str("session", s.ID).Msg("malformed envelope")
			continue
		}

		router.Dispatch(ctx, s, Request{
			Type:        env.Type,
			Payload:     env.Payload,
			Acknowledge: env.Acknowledge,
		})
	}
}

// Close leaves the current room and closes the transport.
func (s *Session) Close() {
	s.Leave()
	_ = s.conn.Close()
}
