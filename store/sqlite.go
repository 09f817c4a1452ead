package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps cache entries in a single SQLite table.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	b := &SQLiteBackend{db: db, now: time.Now}
	if err := b.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) createTables() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			fingerprint TEXT PRIMARY KEY,
			posts TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create cache_entries table: %w", err)
	}
	return nil
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context, fp Fingerprint) ([]byte, error) {
	var posts string
	err := b.db.QueryRowContext(ctx, `SELECT posts FROM cache_entries WHERE fingerprint = ?`, string(fp)).Scan(&posts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(posts), nil
}

// Save implements Backend.
func (b *SQLiteBackend) Save(ctx context.Context, fp Fingerprint, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (fingerprint, posts, updated_at) VALUES (?, ?, ?)`,
		string(fp), string(data), b.now().Unix())
	return err
}

// Keys implements Backend.
func (b *SQLiteBackend) Keys(ctx context.Context) ([]Fingerprint, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT fingerprint FROM cache_entries ORDER BY fingerprint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Fingerprint
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		keys = append(keys, Fingerprint(fp))
	}
	return keys, rows.Err()
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
