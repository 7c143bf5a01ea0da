// Package chunkstore loads the consolidated chunk set produced by the chunking collaborator.
package chunkstore

import (
	"context"
	"fmt"

	"github.com/hyperjump/vecsync/internal/config"
	"github.com/hyperjump/vecsync/internal/models"
)

// Reader loads the full current set of chunks in store order.
//
// LoadAll always returns a usable slice. When the store is missing or cannot be parsed
// the slice is empty and the error is a *ChunkLoadError describing which case occurred;
// callers log it and carry on.
type Reader interface {
	LoadAll(ctx context.Context) ([]models.Chunk, error)
	Path() string
}

// ChunkLoadError reports why the chunk store yielded no chunks.
// Absent is true when the store does not exist yet; otherwise the store is corrupt.
type ChunkLoadError struct {
	Path   string
	Absent bool
	Err    error
}

func (e *ChunkLoadError) Error() string {
	if e.Absent {
		return fmt.Sprintf("chunk store %s does not exist", e.Path)
	}
	return fmt.Sprintf("chunk store %s is unreadable: %v", e.Path, e.Err)
}

func (e *ChunkLoadError) Unwrap() error { return e.Err }

// New returns the reader selected by cfg.Source.
func New(cfg config.ChunksConfig) (Reader, error) {
	switch cfg.Source {
	case config.ChunkSourceJSON, "":
		return &JSONFileReader{path: cfg.Path}, nil
	case config.ChunkSourceSQLite:
		return NewSQLiteReader(cfg.DatabasePath), nil
	default:
		return nil, fmt.Errorf("unknown chunk source %q", cfg.Source)
	}
}
