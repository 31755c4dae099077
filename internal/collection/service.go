package collection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"collaborative-document-server/internal/cache"
	apperrors "collaborative-document-server/internal/errors"
)

// DocumentPurger removes a collection's documents when the collection
// is deleted. Implemented by the document gateway.
type DocumentPurger interface {
	ListNames(ctx context.Context, collectionID uint64) ([]string, error)
	PurgeCollection(ctx context.Context, collectionID uint64) error
}

// Service owns collection lifecycle and hands out the per-collection
// access Guard. Guards are kept in a read-through cache so repeated
// messages for the same collection hit the same instance (and its
// access memo) instead of reloading the row per message.
type Service struct {
	repo   Repository
	docs   DocumentPurger
	guards *cache.Cache[*Guard]
	log    zerolog.Logger
}

func NewService(repo Repository, docs DocumentPurger, ttl time.Duration, log zerolog.Logger) *Service {
	s := &Service{repo: repo, docs: docs, log: log}
	s.guards = cache.New(cache.Options[*Guard]{
		Prefix: "collection",
		TTL:    ttl,
		Resolver: func(key string) (*Guard, error) {
			col, err := s.repo.FindByUUID(context.Background(), key)
			if err != nil {
				return nil, err
			}
			return NewGuard(col, s.repo), nil
		},
	})
	return s
}

const defaultDocumentName = "index"

// Create validates and persists a new collection owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID uint64, name string, description *string, visibility Visibility, defaultDocument string) (*Collection, error) {
	if len(name) < 1 {
		return nil, apperrors.BadRequest(apperrors.CodeNameMin, "Collection name is empty", nil)
	}
	if len(name) > 255 {
		return nil, apperrors.BadRequest(apperrors.CodeNameMax, "Collection name exceeds 255 characters", nil)
	}
	if defaultDocument == "" {
		defaultDocument = defaultDocumentName
	}

	col := &Collection{
		UUID:            uuid.NewString(),
		OwnerID:         ownerID,
		Name:            name,
		Description:     description,
		DefaultDocument: defaultDocument,
		Visibility:      visibility,
	}
	if err := s.repo.Create(ctx, col); err != nil {
		return nil, err
	}
	s.log.Info().Str("collection", col.UUID).Uint64("owner", ownerID).Msg("collection created")
	return col, nil
}

// Guard resolves the cached access guard for a collection uuid.
func (s *Service) Guard(ctx context.Context, colUUID string) (*Guard, error) {
	guard, ok, err := s.guards.Get(colUUID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("Unknown collection", nil)
	}
	return guard, nil
}

// List returns every collection userID owns or holds a grant on.
func (s *Service) List(ctx context.Context, userID uint64) ([]Collection, error) {
	return s.repo.ListForUser(ctx, userID)
}

// Delete removes the collection and cascades its documents, grants and
// last-opened records. Only the owner may delete. Returns the names of
// the collection's documents so callers can tear down their rooms.
func (s *Service) Delete(ctx context.Context, colUUID string, userID uint64) ([]string, error) {
	guard, err := s.Guard(ctx, colUUID)
	if err != nil {
		return nil, err
	}
	col := guard.Collection()
	if col.OwnerID != userID {
		return nil, apperrors.Forbidden("Only the owner can delete a collection", nil)
	}

	names, err := s.docs.ListNames(ctx, col.ID)
	if err != nil {
		return nil, err
	}
	if err := s.docs.PurgeCollection(ctx, col.ID); err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, col); err != nil {
		return nil, err
	}
	s.guards.Invalidate(colUUID)
	s.log.Info().Str("collection", colUUID).Int("documents", len(names)).Msg("collection deleted")
	return names, nil
}

// SetVisibility changes the collection default. Owner only.
func (s *Service) SetVisibility(ctx context.Context, colUUID string, userID uint64, v Visibility) error {
	guard, err := s.Guard(ctx, colUUID)
	if err != nil {
		return err
	}
	if guard.Collection().OwnerID != userID {
		return apperrors.Forbidden("Only the owner can change visibility", nil)
	}
	return guard.SetVisibility(ctx, v)
}

// SetAccess upserts targetID's grant. Owner only.
func (s *Service) SetAccess(ctx context.Context, colUUID string, userID, targetID uint64, v Visibility) error {
	guard, err := s.Guard(ctx, colUUID)
	if err != nil {
		return err
	}
	if guard.Collection().OwnerID != userID {
		return apperrors.Forbidden("Only the owner can grant access", nil)
	}
	return guard.SetAccess(ctx, targetID, v)
}

// TouchLastOpened bumps the (user, collection) last-opened timestamp.
// Failures are logged, not surfaced: the record is advisory.
func (s *Service) TouchLastOpened(ctx context.Context, colUUID string, userID uint64) {
	guard, err := s.Guard(ctx, colUUID)
	if err != nil {
		return
	}
	if err := s.repo.TouchLastOpened(ctx, userID, guard.Collection().ID); err != nil {
		s.log.Warn().Err(err).Str("collection", colUUID).Msg("failed to record last opened")
	}
}
