// Package store persists books and settings in SQLite: which documents were
// opened, where the cursor stopped, and the per-book voice and margin
// choices.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dgnsrekt/readaloud/internal/segment"
)

// Book is one opened document and its remembered reading state.
type Book struct {
	ID           string
	Path         string
	Title        string
	TotalPages   int
	LastPage     int
	LastSentence int
	Voice        string
	Margins      segment.Margins
	LastOpened   time.Time
	CreatedAt    time.Time
}

// Config holds the database location.
type Config struct {
	Path string
}

// DefaultConfig places the database under the working directory. The caller
// normally overrides this with the resolved data directory.
func DefaultConfig() Config {
	return Config{Path: "./data/readaloud.db"}
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the database and its schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("unable to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		total_pages INTEGER NOT NULL DEFAULT 0,
		last_page INTEGER NOT NULL DEFAULT 0,
		last_sentence INTEGER NOT NULL DEFAULT 0,
		voice TEXT NOT NULL DEFAULT '',
		header_margin REAL NOT NULL DEFAULT 50,
		footer_margin REAL NOT NULL DEFAULT 60,
		last_opened DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_books_last_opened ON books(last_opened DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// OpenBook returns the book for path, creating it on first open. The title
// and page count are refreshed on every open, and a remembered position
// past the end of a shrunken document is clamped back onto it.
func (s *Store) OpenBook(ctx context.Context, path, title string, pages int) (*Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	book, err := s.bookByPath(ctx, path)
	if err != nil {
		return nil, err
	}

	if book == nil {
		m := segment.DefaultMargins()
		book = &Book{
			ID:         uuid.NewString(),
			Path:       path,
			Title:      title,
			TotalPages: pages,
			Margins:    m,
			LastOpened: now,
			CreatedAt:  now,
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO books (id, path, title, total_pages, last_page, last_sentence,
				voice, header_margin, footer_margin, last_opened, created_at)
			VALUES (?, ?, ?, ?, 0, 0, '', ?, ?, ?, ?)
		`, book.ID, book.Path, book.Title, book.TotalPages, m.HeaderPt, m.FooterPt, now, now)
		if err != nil {
			return nil, fmt.Errorf("unable to create book: %w", err)
		}
		return book, nil
	}

	book.Title = title
	book.TotalPages = pages
	book.LastOpened = now
	if book.LastPage >= pages {
		book.LastPage = pages - 1
		if book.LastPage < 0 {
			book.LastPage = 0
		}
		book.LastSentence = 0
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE books
		SET title = ?, total_pages = ?, last_page = ?, last_sentence = ?, last_opened = ?
		WHERE id = ?
	`, book.Title, book.TotalPages, book.LastPage, book.LastSentence, now, book.ID)
	if err != nil {
		return nil, fmt.Errorf("unable to refresh book: %w", err)
	}
	return book, nil
}

func (s *Store) bookByPath(ctx context.Context, path string) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, title, total_pages, last_page, last_sentence,
			voice, header_margin, footer_margin, last_opened, created_at
		FROM books WHERE path = ?
	`, path)

	var b Book
	err := row.Scan(&b.ID, &b.Path, &b.Title, &b.TotalPages, &b.LastPage, &b.LastSentence,
		&b.Voice, &b.Margins.HeaderPt, &b.Margins.FooterPt, &b.LastOpened, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read book: %w", err)
	}
	return &b, nil
}

// SaveProgress records the cursor for a book.
func (s *Store) SaveProgress(ctx context.Context, bookID string, page, sentence int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE books SET last_page = ?, last_sentence = ? WHERE id = ?
	`, page, sentence, bookID)
	if err != nil {
		return fmt.Errorf("unable to save progress: %w", err)
	}
	return requireRow(res, bookID)
}

// SaveMargins records the margin choice for a book.
func (s *Store) SaveMargins(ctx context.Context, bookID string, m segment.Margins) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE books SET header_margin = ?, footer_margin = ? WHERE id = ?
	`, m.HeaderPt, m.FooterPt, bookID)
	if err != nil {
		return fmt.Errorf("unable to save margins: %w", err)
	}
	return requireRow(res, bookID)
}

// SaveVoice records the voice choice for a book.
func (s *Store) SaveVoice(ctx context.Context, bookID, voice string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE books SET voice = ? WHERE id = ?
	`, voice, bookID)
	if err != nil {
		return fmt.Errorf("unable to save voice: %w", err)
	}
	return requireRow(res, bookID)
}

// Setting returns the value for key, or the empty string when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("unable to read setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("unable to save setting %q: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, bookID string) error {
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("unknown book: %s", bookID)
	}
	return nil
}
