// Package embedding provides text embedding providers and caching.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder produces vector embeddings for text. EmbedBatch returns one vector per input
// in input order, or an error and no vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrEmbedding is the sentinel matched by every EmbeddingError.
var ErrEmbedding = errors.New("embedding failed")

// EmbeddingError reports that the engine could not vectorize a text.
// Index is the offending text's offset in the batch, or -1 when the whole call failed.
type EmbeddingError struct {
	Index int
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("embedding failed: %v", e.Err)
	}
	return fmt.Sprintf("embedding failed for text %d: %v", e.Index, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEmbedding) true for any EmbeddingError.
func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

// checkBatch verifies a provider returned exactly one vector of the expected length per text.
func checkBatch(vectors [][]float32, n, dimensions int) error {
	if len(vectors) != n {
		return &EmbeddingError{Index: -1, Err: fmt.Errorf("got %d vectors for %d texts", len(vectors), n)}
	}
	for i, v := range vectors {
		if len(v) != dimensions {
			return &EmbeddingError{Index: i, Err: fmt.Errorf("got %d dimensions, expected %d", len(v), dimensions)}
		}
	}
	return nil
}
