package collection

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"gorm.io/gorm"

	"collaborative-document-server/internal/cache"
)

// Guard answers access questions for one Collection instance. Computed
// levels are memoized per instance; any grant or visibility change
// invalidates the memo before it is persisted, so a check cached
// before the change can never outlive it. The mutex serializes the
// check-compute-memoize sequence against those changes: without it, a
// check that read the gateway before a grant change could memoize the
// pre-change level after the invalidation. The memo must not be shared
// across instances.
type Guard struct {
	col  *Collection
	repo Repository
	mu   sync.Mutex
	memo *cache.Cache[Visibility]
}

func NewGuard(col *Collection, repo Repository) *Guard {
	return &Guard{
		col:  col,
		repo: repo,
		memo: cache.New(cache.Options[Visibility]{Prefix: "access/" + col.UUID}),
	}
}

// Collection returns the guarded collection record.
func (g *Guard) Collection() *Collection {
	return g.col
}

// AccessLevel computes the effective visibility rank for userID:
// max(owner implies Write, per-user grant, collection visibility).
// A nil userID yields the collection's bare visibility.
func (g *Guard) AccessLevel(ctx context.Context, userID *uint64) (Visibility, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if userID == nil {
		return g.col.Visibility, nil
	}

	key := strconv.FormatUint(*userID, 10)
	if level, ok, _ := g.memo.Get(key); ok {
		return level, nil
	}

	level := g.col.Visibility
	if *userID == g.col.OwnerID {
		level = Write
	} else {
		grant, err := g.repo.FindGrant(ctx, *userID, g.col.ID)
		switch {
		case err == nil:
			if grant.Visibility > level {
				level = grant.Visibility
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No override for this user.
		default:
			return Private, err
		}
	}

	g.memo.Set(key, level, cache.KeepForever)
	return level, nil
}

// HasAccessLevel reports whether userID holds at least required.
func (g *Guard) HasAccessLevel(ctx context.Context, required Visibility, userID *uint64) (bool, error) {
	level, err := g.AccessLevel(ctx, userID)
	if err != nil {
		return false, err
	}
	return level >= required, nil
}

// SetVisibility changes the collection default and persists it. The
// whole memo drops first: every user's effective level may change.
func (g *Guard) SetVisibility(ctx context.Context, v Visibility) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.memo.Flush()
	g.col.Visibility = v
	return g.repo.Save(ctx, g.col)
}

// SetAccess upserts the per-user grant and persists it, dropping that
// user's memo entry first.
func (g *Guard) SetAccess(ctx context.Context, userID uint64, v Visibility) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.memo.Invalidate(strconv.FormatUint(userID, 10))
	return g.repo.SaveGrant(ctx, &Grant{
		UserID:       userID,
		CollectionID: g.col.ID,
		Visibility:   v,
	})
}
