// Package cache persists fetched page documents in an embedded SQLite
// database. Documents survive process restarts, including dirty local
// edits that have not been pushed yet.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

var (
	// ErrNotFound is returned when no document with the given page ID is cached.
	ErrNotFound = errors.New("cache: document not found")

	// ErrPersistence wraps failures of the underlying database.
	ErrPersistence = errors.New("cache: persistence failure")
)

// 64 MiB WAL journal size limit.
const walJournalSizeLimit = 67108864

// Document is one cached page with its local edit state. Version is the
// remote version the body is based on. Dirty means the body has local
// edits that have not been pushed.
type Document struct {
	ID            string
	Title         string
	SpaceID       string
	Version       int
	Body          json.RawMessage
	Dirty         bool
	FetchedAt     time.Time
	LastTransform string
}

// Entry is a summary row returned by List.
type Entry struct {
	ID        string
	Title     string
	Version   int
	Dirty     bool
	FetchedAt time.Time
}

// Store is a SQLite-backed document cache. All methods are safe for
// concurrent use; each write is its own durable transaction.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	stmts statements
}

type statements struct {
	get, put, stage, list, remove, removeAll *sql.Stmt
}

// Open opens (or creates) the cache database at dbPath, applying
// migrations and preparing statements. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Debug("opening document cache", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrPersistence, err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s := &Store{db: db, logger: logger, now: time.Now}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: prepare statements: %w", ErrPersistence, err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and durable commits.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	prepare := func(dst **sql.Stmt, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.PrepareContext(ctx, query)
	}

	prepare(&s.stmts.get, `
		SELECT page_id, title, space_id, version, body, dirty, fetched_at, last_transform
		FROM pages WHERE page_id = ?`)
	prepare(&s.stmts.put, `
		INSERT INTO pages (page_id, title, space_id, version, body, dirty, fetched_at, last_transform)
		VALUES (?, ?, ?, ?, ?, 0, ?, '')
		ON CONFLICT(page_id) DO UPDATE SET
			title = excluded.title,
			space_id = excluded.space_id,
			version = excluded.version,
			body = excluded.body,
			dirty = 0,
			fetched_at = excluded.fetched_at,
			last_transform = ''`)
	prepare(&s.stmts.stage, `
		UPDATE pages SET body = ?, dirty = 1, last_transform = ? WHERE page_id = ?`)
	prepare(&s.stmts.list, `
		SELECT page_id, title, version, dirty, fetched_at FROM pages ORDER BY page_id`)
	prepare(&s.stmts.remove, `DELETE FROM pages WHERE page_id = ?`)
	prepare(&s.stmts.removeAll, `DELETE FROM pages`)

	return err
}

// Close closes the underlying database. Prepared statements are closed
// implicitly with the connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrPersistence, err)
	}

	return nil
}

// Get returns the cached document for the given page ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	var (
		doc       Document
		dirty     int
		fetchedAt string
		body      []byte
	)

	err := s.stmts.get.QueryRowContext(ctx, id).Scan(
		&doc.ID, &doc.Title, &doc.SpaceID, &doc.Version,
		&body, &dirty, &fetchedAt, &doc.LastTransform,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: page %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrPersistence, id, err)
	}

	doc.Body = json.RawMessage(body)
	doc.Dirty = dirty != 0

	if t, perr := time.Parse(time.RFC3339Nano, fetchedAt); perr == nil {
		doc.FetchedAt = t
	}

	return &doc, nil
}

// Put stores a freshly fetched document, replacing any existing row for
// the same page ID. The stored document is marked clean and any recorded
// transform description is cleared.
func (s *Store) Put(ctx context.Context, id, title, spaceID string, version int, body json.RawMessage) error {
	fetchedAt := s.now().UTC().Format(time.RFC3339Nano)

	if _, err := s.stmts.put.ExecContext(ctx, id, title, spaceID, version, []byte(body), fetchedAt); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrPersistence, id, err)
	}

	return nil
}

// Stage records a local edit: the new body is saved with the dirty flag
// set and a description of the transform that produced it. The base
// version is left unchanged. Returns ErrNotFound if the page is not
// cached.
func (s *Store) Stage(ctx context.Context, id string, body json.RawMessage, transform string) error {
	res, err := s.stmts.stage.ExecContext(ctx, []byte(body), transform, id)
	if err != nil {
		return fmt.Errorf("%w: stage %s: %w", ErrPersistence, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: stage %s: %w", ErrPersistence, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: page %s", ErrNotFound, id)
	}

	return nil
}

// List returns a snapshot of all cached documents, ordered by page ID.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.stmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e         Entry
			dirty     int
			fetchedAt string
		)

		if err := rows.Scan(&e.ID, &e.Title, &e.Version, &dirty, &fetchedAt); err != nil {
			return nil, fmt.Errorf("%w: list scan: %w", ErrPersistence, err)
		}

		e.Dirty = dirty != 0
		if t, perr := time.Parse(time.RFC3339Nano, fetchedAt); perr == nil {
			e.FetchedAt = t
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list rows: %w", ErrPersistence, err)
	}

	return entries, nil
}

// Remove deletes the document for the given page ID. Removing an absent
// document is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.stmts.remove.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrPersistence, id, err)
	}

	return nil
}

// RemoveAll deletes every cached document.
func (s *Store) RemoveAll(ctx context.Context) error {
	if _, err := s.stmts.removeAll.ExecContext(ctx); err != nil {
		return fmt.Errorf("%w: remove all: %w", ErrPersistence, err)
	}

	return nil
}
