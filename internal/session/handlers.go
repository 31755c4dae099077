package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"collaborative-document-server/internal/collection"
	"collaborative-document-server/internal/document"
	apperrors "collaborative-document-server/internal/errors"
	"collaborative-document-server/internal/lockq"
	"collaborative-document-server/internal/room"
	"collaborative-document-server/internal/user"
)

// Handlers binds the protocol operations to the sync engine. One
// instance serves every session.
type Handlers struct {
	collections *collection.Service
	users       user.Service
	engine      *document.Engine
	locks       *lockq.Queue
	validate    *validator.Validate
	log         zerolog.Logger
}

func NewHandlers(
	collections *collection.Service,
	users user.Service,
	engine *document.Engine,
	locks *lockq.Queue,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		collections: collections,
		users:       users,
		engine:      engine,
		locks:       locks,
		validate:    validator.New(),
		log:         log,
	}
}

// Bind registers every protocol operation on the router.
func (h *Handlers) Bind(r *Router) error {
	for msgType, handler := range map[string]Handler{
		"COLLECTION.CREATE":     h.createCollection,
		"COLLECTION.LIST":       h.listCollections,
		"COLLECTION.VISIBILITY": h.setVisibility,
		"COLLECTION.GRANT":      h.grantAccess,
		"COLLECTION.DELETE":     h.deleteCollection,
		"DOC.CREATE":            h.createDocument,
		"DOC.OPEN":              h.openDocument,
		"DOC.WRITE":             h.writeDocument,
		"ROOM.LEAVE":            h.leaveRoom,
	} {
		if err := r.Register(msgType, handler); err != nil {
			return err
		}
	}
	return nil
}

// decode unmarshals and shape-checks a payload. Shape violations
// surface as BAD_REQUEST through the classifier chain.
func (h *Handlers) decode(req Request, out any) error {
	if len(req.Payload) == 0 {
		return h.validate.Struct(out)
	}
	if err := json.Unmarshal(req.Payload, out); err != nil {
		return apperrors.BadRequest(apperrors.CodeSchemaMismatch, "Malformed payload", err)
	}
	return h.validate.Struct(out)
}

type collectionView struct {
	UUID            string    `json:"uuid"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	DefaultDocument string    `json:"default_document"`
	Visibility      int       `json:"visibility"`
	OwnerID         uint64    `json:"owner_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func view(col *collection.Collection) collectionView {
	return collectionView{
		UUID:            col.UUID,
		Name:            col.Name,
		Description:     col.Description,
		DefaultDocument: col.DefaultDocument,
		Visibility:      int(col.Visibility),
		OwnerID:         col.OwnerID,
		CreatedAt:       col.CreatedAt,
	}
}

type createCollectionPayload struct {
	Name            string  `json:"name" validate:"required,min=1,max=255"`
	Description     *string `json:"description"`
	Visibility      int     `json:"visibility" validate:"gte=0,lte=2"`
	DefaultDocument string  `json:"default_document" validate:"omitempty,max=255,excludesall=/"`
}

func (h *Handlers) createCollection(ctx context.Context, s *Session, req Request) error {
	var p createCollectionPayload
	if err := h.decode(req, &p); err != nil {
		return err
	}

	col, err := h.collections.Create(ctx, s.User.ID, p.Name, p.Description, collection.Visibility(p.Visibility), p.DefaultDocument)
	if err != nil {
		return err
	}
	return s.SendOutcome(req.Type, apperrors.OutcomeOK, view(col), req.Acknowledge)
}

func (h *Handlers) listCollections(ctx context.Context, s *Session, req Request) error {
	cols, err := h.collections.List(ctx, s.User.ID)
	if err != nil {
		return err
	}

	views := make([]collectionView, 0, len(cols))
	for i := range cols {
		views = append(views, view(&cols[i]))
	}
	return s.SendOutcome(req.Type, apperrors.OutcomeOK, views, req.Acknowledge)
}

type visibilityPayload struct {
	Collection string `json:"collection" validate:"required,uuid"`
	Visibility int    `json:"visibility" validate:"gte=0,lte=2"`
}

func (h *Handlers) setVisibility(ctx context.Context, s *Session, req Request) error {
	var p visibilityPayload
	if err := h.decode(req, &p); err != nil {
		return err
	}

	if err := h.collections.SetVisibility(ctx, p.Collection, s.User.ID, collection.Visibility(p.Visibility)); err != nil {
		return err
	}
	return s.SendOutcome(req.Type, apperrors.OutcomeOK, visibilityPayload{Collection: p.Collection, Visibility: p.Visibility}, req.Acknowledge)
}

type grantPayload struct {
	Collection string `json:"collection" validate:"required,uuid"`
	Email      string `json:"email" validate:"required,email"`
	Visibility int    `json:"visibility" validate:"gte=0,lte=2"`
}

func (h *Handlers) grantAccess(ctx context.Context, s *Session, req Request) error {
	var p grantPayload
	if err := h.decode(req, &p); err != nil {
		return err
	}

	target, err := h.users.GetUserByEmail(p.Email)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.BadRequest(apperrors.CodeUserNotFound, "No user with that email", err)
		}
		return err
	}

	if err := h.collections.SetAccess(ctx, p.Collection, s.User.ID, target.ID, collection.Visibility(p.Visibility)); err != nil {
		return err
	}
	return s.SendOutcome(req.Type, apperrors.OutcomeOK, map[string]any{
		"collection": p.Collection,
		"user_id":    target.ID,
		"visibility": p.Visibility,
	}, req.Acknowledge)
}

type collectionRefPayload struct {
	Collection string `json:"collection" validate:"required,uuid"`
}

func (h *Handlers) deleteCollection(ctx context.Context, s *Session, req Request) error {
	var p collectionRefPayload
	if err := h.decode(req, &p); err != nil {
		return err
	}

	names, err := h.collections.Delete(ctx, p.Collection, s.User.ID)
	if err != nil {
		return err
	}

	// Tear down the hot state and tell every open viewer.
	for _, name := range names {
		h.engine.Forget(p.Collection, name)
		if err := s.Publish(document.Key(p.Collection, name), room.ModeBroadcast, "COLLECTION.DELETE.OK", collectionRefPayload{Collection: p.Collection}, ""); err != nil {
			h.log.Warn().Err(err).Str("collection", p.Collection).Msg("delete notification failed")
		}
	}
	return s.SendOutcome(req.Type, apperrors.OutcomeOK, collectionRefPayload{Collection: p.Collection}, req.Acknowledge)
}

type docRefPayload struct {
	Collection string `json:"collection" validate:"required,uuid"`
	Document   string `json:"document" validate:"required,min=1,max=255,excludesall=/"`
}

func (h *Handlers) createDocument(ctx context.Context, s *Session, req Request) error {
	var p docRefPayload
	if err := h.decode(req, &p); err != nil {
		return err
	}

	if err := h.requireAccess(ctx, s, p.Collection, collection.Write); err != nil {
		return err
	}
	if err := h.engine.Create(ctx, p.Collection, p.Document); err != nil {
		return err
	}
	return s.SendOutcome(req.Type, apperrors.OutcomeOK, p, req.Acknowledge)
}

type openPayload struct {
	Collection string `json:"collection" validate:"required,uuid"`
	Document   string `json:"document" validate:"omitempty,min=1,max=255,excludesall=/"`
}

type openResult struct {
	Collection string `json:"collection"`
	Document   string `json:"document"`
	Text       string `json:"text"`
}

func (h *Handlers) openDocument(ctx context.Context, s *Session, req Request) error {
	var p openPayload
	if err := h.decode(req, &p); err != nil {
		return err
	}

	guard, err := h.collections.Guard(ctx, p.Collection)
	if err != nil {
		return err
	}
	allowed, err := guard.HasAccessLevel(ctx, collection.Read, &s.User.ID)
	if err != nil {
		return err
	}
	if !allowed {
		return apperrors.Forbidden("Read access required", nil)
	}

	name := p.Document
	if name == "" {
		name = guard.Collection().DefaultDocument
	}

	text, err := h.engine.Text(p.Collection, name)
	if err != nil {
		return err
	}

	s.Join(document.Key(p.Collection, name))
	h.collections.TouchLastOpened(ctx, p.Collection, s.User.ID)

	return s.SendOutcome(req.Type, apperrors.OutcomeOK, openResult{
		Collection: p.Collection,
		Document:   name,
		Text:       text,
	}, req.Acknowledge)
}

type writePayload struct {
	Collection string             `json:"collection" validate:"required,uuid"`
	Document   string             `json:"document" validate:"required,min=1,max=255,excludesall=/"`
	Transform  document.Transform `json:"transform" validate:"required"`
}

type writeResult struct {
	Collection string             `json:"collection"`
	Document   string             `json:"document"`
	Transform  document.Transform `json:"transform"`
	Text       string             `json:"text"`
}

// writeDocument is the edit path: access check, lock, rebase, apply,
// persist, fan out. The lock is released on every exit, success or
// failure, so a failed edit can never starve the document's key.
func (h *Handlers) writeDocument(ctx context.Context, s *Session, req Request) error {
	var p writePayload
	if err := h.decode(req, &p); err != nil {
		return err
	}

	if err := h.requireAccess(ctx, s, p.Collection, collection.Write); err != nil {
		return err
	}

	key := document.Key(p.Collection, p.Document)
	lock, err := h.locks.Acquire(key)
	if err != nil {
		return err
	}
	defer lock.Release()

	rebased, text, err := h.engine.Apply(p.Collection, p.Document, p.Transform)
	if err != nil {
		return err
	}

	result := writeResult{
		Collection: p.Collection,
		Document:   p.Document,
		Transform:  rebased,
		Text:       text,
	}

	if s.Room() == key {
		// Echo to the whole room, writer included.
		return s.EmitRoom("DOC.WRITE.OK", result, req.Acknowledge)
	}
	// Writer is editing without viewing: reply directly, tell the room.
	if err := s.Publish(key, room.ModeEmit, "DOC.WRITE.OK", result, ""); err != nil {
		return err
	}
	return s.SendOutcome(req.Type, apperrors.OutcomeOK, result, req.Acknowledge)
}

func (h *Handlers) leaveRoom(_ context.Context, s *Session, req Request) error {
	s.Leave()
	return s.SendOutcome(req.Type, apperrors.OutcomeOK, struct{}{}, req.Acknowledge)
}

func (h *Handlers) requireAccess(ctx context.Context, s *Session, colUUID string, required collection.Visibility) error {
	guard, err := h.collections.Guard(ctx, colUUID)
	if err != nil {
		return err
	}
	allowed, err := guard.HasAccessLevel(ctx, required, &s.User.ID)
	if err != nil {
		return err
	}
	if !allowed {
		return apperrors.Forbidden(required.String()+" access required", nil)
	}
	return nil
}
