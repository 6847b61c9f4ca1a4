// Package store provides the SQLite-backed gallery of generated images.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gallery-pager/pkg/logging"
	"github.com/Sternrassler/gallery-pager/pkg/pagination"
)

// Ensure SQLiteStore can serve gallery pages
var _ pagination.Fetcher = (*SQLiteStore)(nil)

var (
	// ErrNotFound is returned when a gallery item does not exist.
	ErrNotFound = errors.New("gallery item not found")

	// ErrInvalidWindow is returned for a negative limit or offset.
	ErrInvalidWindow = errors.New("invalid fetch window")
)

// GalleryItem is a stored generation result.
type GalleryItem struct {
	ID        int64
	Image     string // base64 encoded image
	Prompt    string
	CreatedAt time.Time
}

// SQLiteStore stores gallery items in SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the gallery database at dbPath
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logging.NewLogger("gallery-store"),
	}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store.logger.Info().Str("path", dbPath).Msg("Gallery store opened")
	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS gallery (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gallery_created_at ON gallery(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// Insert stores a new gallery item and returns its id
func (s *SQLiteStore) Insert(ctx context.Context, item GalleryItem) (int64, error) {
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO gallery (image, prompt, created_at) VALUES (?, ?, ?)`,
		item.Image, item.Prompt, createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert gallery item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert gallery item: %w", err)
	}
	return id, nil
}

// Count returns the number of stored gallery items
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gallery`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count gallery items: %w", err)
	}
	return n, nil
}

// FetchPage returns up to limit records starting at offset, newest first
func (s *SQLiteStore) FetchPage(ctx context.Context, limit, offset int) ([]pagination.RawRecord, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit %d, offset %d", ErrInvalidWindow, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, image FROM gallery ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query gallery page: %w", err)
	}
	defer rows.Close()

	records := make([]pagination.RawRecord, 0, limit)
	for rows.Next() {
		var record pagination.RawRecord
		if err := rows.Scan(&record.ID, &record.Image); err != nil {
			return nil, fmt.Errorf("scan gallery record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery page: %w", err)
	}

	return records, nil
}

// Get retrieves a gallery item by id
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*GalleryItem, error) {
	var item GalleryItem
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, image, prompt, created_at FROM gallery WHERE id = ?`,
		id,
	).Scan(&item.ID, &item.Image, &item.Prompt, &createdAtStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get gallery item: %w", err)
	}

	item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &item, nil
}

// Delete removes a gallery item
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM gallery WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete gallery item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete gallery item: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
