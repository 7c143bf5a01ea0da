package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
)

// indexMagic prefixes the binary form of a MemoryIndex.
var indexMagic = [4]byte{'V', 'S', 'X', '1'}

// MemoryIndex is an in-memory vector index using brute-force squared L2 search.
// Vectors are stored contiguously in insertion order.
type MemoryIndex struct {
	dimensions int
	data       []float32 // len(data) == size * dimensions
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		data:       make([]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Add appends vectors in order. Every vector is checked before any is appended, so a
// dimension mismatch leaves the index unchanged.
func (m *MemoryIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, vec := range vectors {
		if len(vec) != m.dimensions {
			return &DimensionMismatchError{Want: m.dimensions, Got: len(vec), Position: i}
		}
	}
	for _, vec := range vectors {
		m.data = append(m.data, vec...)
	}
	return nil
}

// Search returns up to k positions ordered by increasing squared L2 distance.
// Equal distances keep insertion order (lower position first).
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(query) != m.dimensions {
		return nil, &DimensionMismatchError{Want: m.dimensions, Got: len(query), Position: -1}
	}
	n := m.sizeLocked()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Position: i, Distance: SquaredL2(query, m.rowLocked(i))}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > n {
		k = n
	}
	return hits[:k], nil
}

// Vector returns a copy of the vector at position.
func (m *MemoryIndex) Vector(position int) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if position < 0 || position >= m.sizeLocked() {
		return nil, false
	}
	out := make([]float32, m.dimensions)
	copy(out, m.rowLocked(position))
	return out, true
}

func (m *MemoryIndex) rowLocked(i int) []float32 {
	return m.data[i*m.dimensions : (i+1)*m.dimensions]
}

func (m *MemoryIndex) sizeLocked() int {
	if m.dimensions == 0 {
		return 0
	}
	return len(m.data) / m.dimensions
}

// MarshalBinary encodes the index. Format: magic (4), dimension (4), n (4), then
// n*dimension float32 values, all little endian.
func (m *MemoryIndex) MarshalBinary() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var buf bytes.Buffer
	buf.Grow(12 + len(m.data)*4)
	buf.Write(indexMagic[:])
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(m.dimensions))
	binary.LittleEndian.PutUint32(header[4:8], uint32(m.sizeLocked()))
	buf.Write(header)
	buf.Write(float32SliceToBytes(m.data))
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the index contents with the decoded form. Truncated input
// and trailing bytes are both errors.
func (m *MemoryIndex) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if magic != indexMagic {
		return errors.New("not a vector index: bad magic")
	}
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	if dim == 0 {
		return errors.New("dimensions must be positive")
	}
	want := int64(dim) * int64(n) * 4
	if int64(r.Len()) != want {
		return fmt.Errorf("vector payload is %d bytes, header declares %d", r.Len(), want)
	}
	buf := make([]byte, want)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read vectors: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = int(dim)
	m.data = bytesToFloat32Slice(buf)
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeLocked()
}

// Dimensions returns the fixed vector length.
func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimensions
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
