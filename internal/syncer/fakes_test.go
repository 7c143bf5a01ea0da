package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/hyperjump/vecsync/internal/embedding"
	"github.com/hyperjump/vecsync/internal/ledger"
	"github.com/hyperjump/vecsync/internal/persist"
	"github.com/hyperjump/vecsync/internal/vector"
)

// memStore is an in-memory persist.Store that keeps only encoded bytes, so a loaded
// pair never aliases a saved one.
type memStore struct {
	mu         sync.Mutex
	indexData  []byte
	ledgerData []byte
	has        bool
	corrupt    error
	saveErr    error
	lockErr    error
	loads      int
	saves      int
	locks      int
	unlocks    int
}

func (s *memStore) Load(ctx context.Context) (persist.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return persist.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.corrupt != nil {
		return persist.Snapshot{Status: persist.StatusCorrupt, Cause: s.corrupt}, nil
	}
	if !s.has {
		return persist.Snapshot{Status: persist.StatusAbsent}, nil
	}
	idx, err := vector.Decode("memory", s.indexData)
	if err != nil {
		return persist.Snapshot{Status: persist.StatusCorrupt, Cause: err}, nil
	}
	led := ledger.New()
	if err := json.Unmarshal(s.ledgerData, led); err != nil {
		return persist.Snapshot{Status: persist.StatusCorrupt, Cause: err}, nil
	}
	return persist.Snapshot{Status: persist.StatusLoaded, Pair: &persist.Pair{Index: idx, Ledger: led}}, nil
}

func (s *memStore) Save(ctx context.Context, pair *persist.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return &persist.PersistenceError{Op: "save", Err: s.saveErr}
	}
	if err := pair.Validate(); err != nil {
		return &persist.PersistenceError{Op: "validate", Err: err}
	}
	idx, err := pair.Index.MarshalBinary()
	if err != nil {
		return err
	}
	led, err := json.Marshal(pair.Ledger)
	if err != nil {
		return err
	}
	s.indexData, s.ledgerData, s.has, s.corrupt = idx, led, true, nil
	return nil
}

func (s *memStore) Lock(context.Context) (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	s.locks++
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.unlocks++
		return nil
	}, nil
}

func (s *memStore) Describe() persist.Info { return persist.Info{Backend: "memory"} }

func (s *memStore) Close() error { return nil }

// pair returns the currently persisted pair, or nil when none is stored.
func (s *memStore) pair() *persist.Pair {
	snap, _ := s.Load(context.Background())
	s.mu.Lock()
	s.loads--
	s.mu.Unlock()
	return snap.Pair
}

// countingEmbedder records every batch it is asked to embed.
type countingEmbedder struct {
	*embedding.MockEmbedder
	mu      sync.Mutex
	batches [][]string
	err     error
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(dims)}
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), texts...))
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, &embedding.EmbeddingError{Index: -1, Err: err}
	}
	return e.MockEmbedder.EmbedBatch(ctx, texts)
}

func (e *countingEmbedder) embeddedTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, b := range e.batches {
		out = append(out, b...)
	}
	return out
}

var errDiskFull = errors.New("disk full")

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
