package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"taskboard/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_created ON documents (collection, created_at);
`

// SQLiteStore keeps documents as JSON bodies in a single SQLite table.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLite opens the store at path, creating the schema when needed.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, collection string, record domain.Record) (string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	id := uuid.NewString()
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at) VALUES (?, ?, ?, ?)`,
		collection, id, string(body), time.Now().UTC().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// Update merges partial into the stored body.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, partial domain.Record) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	current := domain.Record{}
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("decode document %s: %w", id, err)
	}
	for k, v := range partial {
		current[k] = v
	}
	body, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET body = ? WHERE collection = ? AND id = ?`, string(body), collection, id); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// QueryByField returns matching documents in insertion order.
func (s *SQLiteStore) QueryByField(ctx context.Context, collection, field string, value any) ([]domain.Document, error) {
	if !validFieldName(field) {
		return nil, fmt.Errorf("invalid field name %q", field)
	}
	// json_extract yields 1 or 0 for JSON booleans.
	if b, ok := value.(bool); ok {
		value = 0
		if b {
			value = 1
		}
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, body FROM documents
		 WHERE collection = ? AND json_extract(body, '$.' || ?) = ?
		 ORDER BY created_at, rowid`,
		collection, field, value)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		rec := domain.Record{}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, domain.Document{ID: id, Record: rec})
	}
	return docs, rows.Err()
}

func validFieldName(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
