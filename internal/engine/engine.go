// Package engine coordinates the document cache with the remote API.
// It owns the edit and push lifecycle: fetch caches a clean base
// version, edits stage dirty bodies on top of it, and push publishes
// them, replaying recorded edits onto a fresh base when the remote
// version has moved.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jpkarjala/confluence-go/internal/adf"
	"github.com/jpkarjala/confluence-go/internal/cache"
	"github.com/jpkarjala/confluence-go/internal/confluence"
)

// ErrConflictExhausted is returned when a push keeps losing the version
// race after the configured number of replay attempts. The document is
// left dirty, staged on the most recently fetched base.
var ErrConflictExhausted = errors.New("engine: conflict retries exhausted")

// ConflictError carries the details of a failed conflict resolution.
type ConflictError struct {
	ID            string
	BaseVersion   int
	RemoteVersion int
	Attempts      int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: page %s base v%d, remote v%d after %d attempts",
		ErrConflictExhausted, e.ID, e.BaseVersion, e.RemoteVersion, e.Attempts)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflictExhausted
}

// PageAPI is the slice of the remote client the engine needs.
type PageAPI interface {
	GetPage(ctx context.Context, id string) (*confluence.Page, error)
	UpdatePage(ctx context.Context, id, title string, baseVersion int, body json.RawMessage, message string) (*confluence.Page, error)
}

// Engine serializes all operations per page ID. Concurrent calls for
// different pages proceed in parallel; calls for the same page queue.
type Engine struct {
	api             PageAPI
	store           *cache.Store
	logger          *slog.Logger
	conflictRetries int

	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	transforms map[string][]adf.Transform
}

// New creates an Engine. conflictRetries is the number of replay
// attempts after the initial push loses a version race.
func New(api PageAPI, store *cache.Store, conflictRetries int, logger *slog.Logger) *Engine {
	return &Engine{
		api:             api,
		store:           store,
		logger:          logger,
		conflictRetries: conflictRetries,
		locks:           make(map[string]*sync.Mutex),
		transforms:      make(map[string][]adf.Transform),
	}
}

// lockPage acquires the per-page mutex and returns its unlock func.
func (e *Engine) lockPage(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()

	l.Lock()

	return l.Unlock
}

func (e *Engine) recordedTransforms(id string) []adf.Transform {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.transforms[id]
}

func (e *Engine) appendTransform(id string, t adf.Transform) {
	e.mu.Lock()
	e.transforms[id] = append(e.transforms[id], t)
	e.mu.Unlock()
}

func (e *Engine) clearTransforms(id string) {
	e.mu.Lock()
	delete(e.transforms, id)
	e.mu.Unlock()
}

// FetchResult reports what Fetch did. DiscardedDirty is true when the
// fetch overwrote unpushed local edits.
type FetchResult struct {
	Doc            *cache.Document
	DiscardedDirty bool
}

// Fetch downloads the current remote version and caches it clean,
// overwriting any local state including dirty edits.
func (e *Engine) Fetch(ctx context.Context, id string) (*FetchResult, error) {
	defer e.lockPage(id)()

	discarded := false
	if prev, err := e.store.Get(ctx, id); err == nil && prev.Dirty {
		discarded = true
		e.logger.Warn("fetch discarding local edits", "page_id", id, "base_version", prev.Version)
	}

	page, err := e.api.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := e.store.Put(ctx, page.ID, page.Title, page.SpaceID, page.Version, page.Body); err != nil {
		return nil, err
	}

	e.clearTransforms(id)

	doc, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return &FetchResult{Doc: doc, DiscardedDirty: discarded}, nil
}

// Cached returns the cached document without touching the network.
func (e *Engine) Cached(ctx context.Context, id string) (*cache.Document, error) {
	defer e.lockPage(id)()

	return e.store.Get(ctx, id)
}

// Edit applies a transform to the cached body and stages the result as
// a dirty local edit. The transform is also recorded in memory so a
// later push can replay it onto a fresher base. Returns
// cache.ErrNotFound when the page has not been fetched, and
// adf.ErrNoMatch (with the cache untouched) when the transform found
// nothing to change.
func (e *Engine) Edit(ctx context.Context, id string, t adf.Transform) (*cache.Document, error) {
	defer e.lockPage(id)()

	doc, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	body, err := t.Apply(doc.Body)
	if err != nil {
		return nil, err
	}

	if err := e.store.Stage(ctx, id, body, t.Describe()); err != nil {
		return nil, err
	}

	e.appendTransform(id, t)

	return e.store.Get(ctx, id)
}

// PushResult reports the outcome of a push. NoOp means the document
// was already clean and nothing was sent. Attempts counts update calls
// made, including the successful one.
type PushResult struct {
	Doc      *cache.Document
	NoOp     bool
	Attempts int
}

// Push publishes the staged body. On a version conflict the engine
// refetches the page, replays the recorded edits onto the fresh base,
// and retries. When the retries run out the document stays dirty on
// the latest base and the error unwraps to ErrConflictExhausted. A
// conflict with no recorded edits (for example after a restart) fails
// immediately, since there is nothing to replay.
func (e *Engine) Push(ctx context.Context, id, message string) (*PushResult, error) {
	defer e.lockPage(id)()

	doc, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !doc.Dirty {
		return &PushResult{Doc: doc, NoOp: true}, nil
	}

	attempts := 0

	for {
		attempts++

		page, err := e.api.UpdatePage(ctx, id, doc.Title, doc.Version, doc.Body, message)
		if err == nil {
			if err := e.store.Put(ctx, page.ID, page.Title, page.SpaceID, page.Version, page.Body); err != nil {
				return nil, err
			}
			e.clearTransforms(id)

			clean, err := e.store.Get(ctx, id)
			if err != nil {
				return nil, err
			}

			return &PushResult{Doc: clean, Attempts: attempts}, nil
		}

		if !errors.Is(err, confluence.ErrConflict) {
			return nil, err
		}

		recorded := e.recordedTransforms(id)
		if len(recorded) == 0 || attempts > e.conflictRetries {
			remote := doc.Version
			if fresh, gerr := e.api.GetPage(ctx, id); gerr == nil {
				remote = fresh.Version
			}

			return nil, &ConflictError{
				ID:            id,
				BaseVersion:   doc.Version,
				RemoteVersion: remote,
				Attempts:      attempts,
			}
		}

		e.logger.Info("push conflict, replaying edits onto fresh base",
			"page_id", id, "base_version", doc.Version, "attempt", attempts)

		doc, err = e.rebase(ctx, id, doc, recorded)
		if err != nil {
			return nil, err
		}
	}
}

// rebase fetches the current remote page, caches it clean, replays the
// recorded transforms in order, and stages the result. When a replay
// fails (the conflicting remote edit removed whatever the transform
// matched on), the pre-conflict body is re-staged on the new base so the
// local edit stays dirty and recoverable instead of vanishing.
func (e *Engine) rebase(ctx context.Context, id string, prior *cache.Document, recorded []adf.Transform) (*cache.Document, error) {
	page, err := e.api.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := e.store.Put(ctx, page.ID, page.Title, page.SpaceID, page.Version, page.Body); err != nil {
		return nil, err
	}

	body := page.Body
	for _, t := range recorded {
		body, err = t.Apply(body)
		if err != nil {
			if stageErr := e.store.Stage(ctx, id, prior.Body, prior.LastTransform); stageErr != nil {
				e.logger.Error("could not re-stage local edit after failed replay",
					"page_id", id, "error", stageErr)
			}

			return nil, fmt.Errorf("engine: replaying edit onto v%d of page %s: %w", page.Version, id, err)
		}
	}

	last := recorded[len(recorded)-1]
	if err := e.store.Stage(ctx, id, body, last.Describe()); err != nil {
		return nil, err
	}

	return e.store.Get(ctx, id)
}

// List returns a snapshot of the cache contents.
func (e *Engine) List(ctx context.Context) ([]cache.Entry, error) {
	return e.store.List(ctx)
}

// Evict drops one page from the cache, discarding any local edits.
func (e *Engine) Evict(ctx context.Context, id string) error {
	defer e.lockPage(id)()

	e.clearTransforms(id)

	return e.store.Remove(ctx, id)
}

// EvictAll clears the whole cache. It takes every known per-page lock
// first so an in-flight operation on any page finishes before its row
// disappears.
func (e *Engine) EvictAll(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.locks))
	for id := range e.locks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	locks := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		locks = append(locks, e.locks[id])
	}
	e.mu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for _, l := range locks {
			l.Unlock()
		}
	}()

	e.mu.Lock()
	e.transforms = make(map[string][]adf.Transform)
	e.mu.Unlock()

	return e.store.RemoveAll(ctx)
}
