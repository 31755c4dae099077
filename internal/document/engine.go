package document

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"collaborative-document-server/internal/cache"
	"collaborative-document-server/internal/worker"
)

// HistoryLimit caps a document's transform history. This is a
// correctness boundary, not just a performance knob: a transform
// concurrent with an entry that has already been dropped is rebased as
// if that entry never happened.
const HistoryLimit = 101

// State is the hot, cache-resident form of a document: materialized
// text plus the rebase working set, newest first. Dirty is set on the
// first edit; a state that was only ever read is never written back,
// so opening a nonexistent document does not materialize a row.
type State struct {
	Text    string      `json:"text"`
	History []Transform `json:"history"`
	Dirty   bool        `json:"-"`
}

// Engine owns document text and transform history and performs the
// rebase that reconciles concurrent edits. State lives in a write-back
// cache keyed per collection and document name; the durable row is
// only updated when an entry is evicted or flushed.
type Engine struct {
	repo   Repository
	states *cache.Cache[State]
	log    zerolog.Logger
}

func NewEngine(repo Repository, pool *worker.Pool, ttl time.Duration, log zerolog.Logger) *Engine {
	e := &Engine{repo: repo, log: log}
	e.states = cache.New(cache.Options[State]{
		Prefix: "document",
		TTL:    ttl,
		Resolver: func(key string) (State, error) {
			colUUID, name := splitKey(key)
			doc, err := repo.FindByCollectionAndName(context.Background(), colUUID, name)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Documents come into being on first edit.
				return State{}, nil
			}
			if err != nil {
				return State{}, err
			}
			return State{Text: doc.Text}, nil
		},
		Backuper: func(key string, st State) {
			if !st.Dirty {
				return
			}
			colUUID, name := splitKey(key)
			pool.Submit(func(ctx context.Context) error {
				return repo.UpsertText(ctx, colUUID, name, st.Text)
			})
		},
	})
	return e
}

// Key builds the cache and lock key for a document. Callers acquire
// the mutex-queue entry for this key before calling Apply.
func Key(collectionUUID, name string) string {
	return collectionUUID + "/" + name
}

func splitKey(key string) (collectionUUID, name string) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) < 2 {
		return key, ""
	}
	return parts[0], parts[1]
}

// Apply rebases t against the history entries it was concurrent with,
// records it, splices it into the text and persists the new state
// through the cache. It returns the rebased transform and the
// resulting text.
//
// The caller must hold the document's lock entry for Key(collection,
// name); two concurrent rebases on the same document would otherwise
// read-modify-write the same history inconsistently.
func (e *Engine) Apply(collectionUUID, name string, t Transform) (Transform, string, error) {
	key := Key(collectionUUID, name)

	st, _, err := e.states.Get(key)
	if err != nil {
		return Transform{}, "", err
	}

	rebased := rebase(t, st.History)
	st.History = record(rebased, st.History)
	st.Text = rebased.Apply(st.Text)
	st.Dirty = true

	e.states.Set(key, st, cache.DefaultTTL)

	e.log.Debug().
		Str("document", key).
		Int64("sid", rebased.SID).
		Int("index", rebased.Index).
		Msg("transform applied")
	return rebased, st.Text, nil
}

// Text returns the current materialized text, loading it on a cold
// cache.
func (e *Engine) Text(collectionUUID, name string) (string, error) {
	st, _, err := e.states.Get(Key(collectionUUID, name))
	if err != nil {
		return "", err
	}
	return st.Text, nil
}

// Create explicitly creates an empty document row. A duplicate name
// within the collection surfaces as a storage conflict.
func (e *Engine) Create(ctx context.Context, collectionUUID, name string) error {
	_, err := e.repo.Create(ctx, collectionUUID, name)
	return err
}

// Forget drops a document's cached state without flushing it, for use
// when the underlying collection is being deleted.
func (e *Engine) Forget(collectionUUID, name string) {
	e.states.Invalidate(Key(collectionUUID, name))
}

// Flush writes every hot document back to durable storage. Called on
// shutdown.
func (e *Engine) Flush() {
	e.states.Flush()
}
