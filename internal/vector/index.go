// Package vector provides the append-only vector index and similarity search.
package vector

import (
	"context"
	"encoding"
	"errors"
	"fmt"
)

// ErrDimension is the sentinel matched by every DimensionMismatchError.
var ErrDimension = errors.New("vector dimension mismatch")

// VectorIndex is an append-only nearest-neighbor structure. Positions are assigned in
// insertion order starting at 0 and never change.
type VectorIndex interface {
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Vector(position int) ([]float32, bool)
	Size() int
	Dimensions() int
	Type() string
	Close() error
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Hit is a single search result: the index position and its distance to the query.
type Hit struct {
	Position int
	Distance float64
}

// DimensionMismatchError is returned when a vector's length differs from the index dimension.
// Position is the offending vector's offset within the Add batch, or -1 for a query.
type DimensionMismatchError struct {
	Want     int
	Got      int
	Position int
}

func (e *DimensionMismatchError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("query dimension mismatch: got %d, expected %d", e.Got, e.Want)
	}
	return fmt.Sprintf("vector dimension mismatch at batch offset %d: got %d, expected %d", e.Position, e.Got, e.Want)
}

// Is makes errors.Is(err, ErrDimension) true for any DimensionMismatchError.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimension
}
