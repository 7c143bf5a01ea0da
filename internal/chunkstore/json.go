package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/vecsync/internal/models"
)

// JSONFileReader reads a JSON array of chunk objects from a single file.
type JSONFileReader struct {
	path string
}

// NewJSONFileReader returns a reader for the chunk file at path.
func NewJSONFileReader(path string) *JSONFileReader {
	return &JSONFileReader{path: path}
}

// Path returns the chunk file path.
func (r *JSONFileReader) Path() string { return r.path }

// LoadAll parses the whole file. A single invalid record makes the file corrupt.
func (r *JSONFileReader) LoadAll(ctx context.Context) ([]models.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return []models.Chunk{}, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.Chunk{}, &ChunkLoadError{Path: r.path, Absent: true, Err: err}
		}
		return []models.Chunk{}, &ChunkLoadError{Path: r.path, Err: err}
	}
	var chunks []models.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return []models.Chunk{}, &ChunkLoadError{Path: r.path, Err: err}
	}
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	return chunks, nil
}

// WriteJSONFile writes chunks as a JSON array to path, replacing any existing file atomically.
func WriteJSONFile(path string, chunks []models.Chunk) error {
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	data, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chunks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write chunks: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace chunk file: %w", err)
	}
	return nil
}
