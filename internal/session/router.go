package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "collaborative-document-server/internal/errors"
)

// Request is one decoded client message.
type Request struct {
	Type        string
	Payload     json.RawMessage
	Acknowledge string
}

// Handler processes one message type for a session. A returned error
// is classified and reported to the client as "<type>.<OUTCOME>"; the
// handler sends its own success reply.
type Handler func(ctx context.Context, s *Session, req Request) error

// Router maps message types to handlers. It is constructed once at
// startup and shared by every session; registration is not safe after
// sessions start dispatching.
type Router struct {
	handlers map[string]Handler
	chain    *apperrors.Chain
	log      zerolog.Logger
}

func NewRouter(chain *apperrors.Chain, log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		chain:    chain,
		log:      log,
	}
}

// Register wires a handler for msgType. Registering the same type
// twice is a programming error and is rejected.
func (r *Router) Register(msgType string, h Handler) error {
	if _, dup := r.handlers[msgType]; dup {
		return fmt.Errorf("session: handler already registered for %q", msgType)
	}
	r.handlers[msgType] = h
	return nil
}

// Dispatch routes req to its handler and converts a handler error
// into an outcome reply. Unknown types are logged and ignored; they
// never crash the connection.
func (r *Router) Dispatch(ctx context.Context, s *Session, req Request) {
	h, ok := r.handlers[req.Type]
	if !ok {
		r.log.Warn().Str("session", s.ID).Str("type", req.Type).Msg("unknown message type")
		return
	}

	err := h(ctx, s, req)
	if err == nil {
		return
	}

	perr := r.chain.Classify(err)
	if perr.Outcome == apperrors.OutcomeInternal {
		r.log.Error().Err(err).Str("session", s.ID).Str("type", req.Type).Msg("handler failed")
	} else {
		r.log.Debug().Err(err).Str("session", s.ID).Str("type", req.Type).Str("outcome", string(perr.Outcome)).Msg("request rejected")
	}

	reply := outcomePayload{Code: perr.Code, Message: perr.Message}
	if perr.Outcome == apperrors.OutcomeInternal {
		// Never leak internals to the client.
		reply = outcomePayload{Message: "Internal server error"}
	}
	if err := s.SendOutcome(req.Type, perr.Outcome, reply, req.Acknowledge); err != nil {
		r.log.Warn().Err(err).Str("session", s.ID).Msg("failed to send outcome")
	}
}

type outcomePayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
