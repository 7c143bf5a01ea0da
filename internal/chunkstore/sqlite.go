package chunkstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/vecsync/internal/models"
)

const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	source TEXT
);

CREATE INDEX IF NOT EXISTS idx_chunks_seq ON chunks(seq);
`

// SQLiteReader reads chunks from a SQLite table in insertion (seq) order. The chunking
// collaborator writes the table; PutChunks is the writer side.
type SQLiteReader struct {
	path string
}

// NewSQLiteReader returns a reader for the database at path. The database is opened per call
// so that an external writer can replace it between runs.
func NewSQLiteReader(path string) *SQLiteReader {
	return &SQLiteReader{path: path}
}

// Path returns the database path.
func (r *SQLiteReader) Path() string { return r.path }

// LoadAll reads every row. A missing database file is absent; a row without an id,
// a missing table or an unreadable file make the store corrupt.
func (r *SQLiteReader) LoadAll(ctx context.Context) ([]models.Chunk, error) {
	if _, err := os.Stat(r.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.Chunk{}, &ChunkLoadError{Path: r.path, Absent: true, Err: err}
		}
		return []models.Chunk{}, &ChunkLoadError{Path: r.path, Err: err}
	}
	chunks, err := r.query(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return []models.Chunk{}, ctx.Err()
		}
		return []models.Chunk{}, &ChunkLoadError{Path: r.path, Err: err}
	}
	return chunks, nil
}

func (r *SQLiteReader) query(ctx context.Context) ([]models.Chunk, error) {
	db, err := sql.Open("sqlite3", r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT id, text, source FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []models.Chunk{}
	for rows.Next() {
		var id, text string
		var sourceJSON sql.NullString
		if err := rows.Scan(&id, &text, &sourceJSON); err != nil {
			return nil, err
		}
		var source map[string]interface{}
		if sourceJSON.Valid && sourceJSON.String != "" {
			if err := json.Unmarshal([]byte(sourceJSON.String), &source); err != nil {
				return nil, fmt.Errorf("chunk %s: source: %w", id, err)
			}
		}
		c, err := models.NewChunk(id, text, source)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(chunks), err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// PutChunks inserts chunks in order, creating the database and table if needed. A chunk
// whose id already exists keeps its position; its text and source are replaced.
func (r *SQLiteReader) PutChunks(ctx context.Context, chunks []models.Chunk) error {
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", r.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, chunkSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, seq, text, source)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM chunks), ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, source = excluded.source`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		var source interface{}
		if len(c.Source) > 0 {
			b, err := json.Marshal(c.Source)
			if err != nil {
				return fmt.Errorf("chunk %s: failed to marshal source: %w", c.ID, err)
			}
			source = string(b)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Text, source); err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}
