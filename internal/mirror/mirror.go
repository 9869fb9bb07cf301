// Package mirror persists fetched pages and revisions to a local
// SQLite database, so tooling can diff and restore content without
// re-querying the live wiki.
package mirror

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Page is one mirrored page snapshot.
type Page struct {
	PageID    int64     `db:"page_id"`
	Title     string    `db:"title"`
	Namespace int       `db:"namespace"`
	Content   string    `db:"content"`
	FetchedAt time.Time `db:"fetched_at"`
}

// Revision is one mirrored revision.
type Revision struct {
	RevID     int64     `db:"rev_id"`
	PageID    int64     `db:"page_id"`
	ParentID  int64     `db:"parent_id"`
	User      string    `db:"user"`
	Timestamp time.Time `db:"timestamp"`
	Comment   string    `db:"comment"`
	Minor     bool      `db:"minor"`
	Content   string    `db:"content"`
}

// ErrNotFound is returned when the mirror holds no row for the key.
var ErrNotFound = errors.New("not in mirror")

// Store is a local mirror database. It is safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

// Open connects to (creating if needed) the mirror database at path
// and applies any pending migrations. Pass ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mirror database: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func applyMigrations(db *sqlx.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SavePage inserts or refreshes a page snapshot.
func (s *Store) SavePage(ctx context.Context, page *Page) error {
	query := `INSERT INTO pages (page_id, title, namespace, content, fetched_at)
		VALUES (:page_id, :title, :namespace, :content, :fetched_at)
		ON CONFLICT(page_id) DO UPDATE SET
			title = excluded.title,
			namespace = excluded.namespace,
			content = excluded.content,
			fetched_at = excluded.fetched_at`
	if _, err := s.db.NamedExecContext(ctx, query, page); err != nil {
		return fmt.Errorf("failed to save page %d: %w", page.PageID, err)
	}
	return nil
}

// SaveRevision inserts a revision; saving the same revision id again
// is a no-op since revisions are immutable.
func (s *Store) SaveRevision(ctx context.Context, rev *Revision) error {
	query := `INSERT INTO revisions (rev_id, page_id, parent_id, user, timestamp, comment, minor, content)
		VALUES (:rev_id, :page_id, :parent_id, :user, :timestamp, :comment, :minor, :content)
		ON CONFLICT(rev_id) DO NOTHING`
	if _, err := s.db.NamedExecContext(ctx, query, rev); err != nil {
		return fmt.Errorf("failed to save revision %d: %w", rev.RevID, err)
	}
	return nil
}

// GetPageByTitle retrieves a mirrored page snapshot by title.
func (s *Store) GetPageByTitle(ctx context.Context, title string) (*Page, error) {
	var page Page
	query := `SELECT page_id, title, namespace, content, fetched_at FROM pages WHERE title = ?`
	if err := s.db.GetContext(ctx, &page, query, title); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("page %q: %w", title, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get page by title: %w", err)
	}
	return &page, nil
}

// GetRevision retrieves a mirrored revision by id.
func (s *Store) GetRevision(ctx context.Context, revID int64) (*Revision, error) {
	var rev Revision
	query := `SELECT rev_id, page_id, parent_id, user, timestamp, comment, minor, content
		FROM revisions WHERE rev_id = ?`
	if err := s.db.GetContext(ctx, &rev, query, revID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("revision %d: %w", revID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}
	return &rev, nil
}

// RevisionsByPage retrieves a page's mirrored revisions, newest first.
func (s *Store) RevisionsByPage(ctx context.Context, pageID int64) ([]Revision, error) {
	var revs []Revision
	query := `SELECT rev_id, page_id, parent_id, user, timestamp, comment, minor, content
		FROM revisions WHERE page_id = ? ORDER BY rev_id DESC`
	if err := s.db.SelectContext(ctx, &revs, query, pageID); err != nil {
		return nil, fmt.Errorf("failed to list revisions for page %d: %w", pageID, err)
	}
	return revs, nil
}
