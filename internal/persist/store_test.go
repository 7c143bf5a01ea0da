package persist

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/vecsync/internal/config"
	"github.com/hyperjump/vecsync/internal/ledger"
	"github.com/hyperjump/vecsync/internal/models"
	"github.com/hyperjump/vecsync/internal/vector"
)

// testPair builds an aligned pair of n records with dimension-3 vectors.
func testPair(t *testing.T, n int) *Pair {
	t.Helper()
	idx, err := vector.NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	led := ledger.New()
	vecs := make([][]float32, n)
	for i := 0; i < n; i++ {
		vecs[i] = []float32{float32(i), 1, 0}
		c, err := models.NewChunk(fmt.Sprintf("c%d", i), fmt.Sprintf("text %d", i), nil)
		if err != nil {
			t.Fatal(err)
		}
		led.Append(models.RecordFromChunk(c))
	}
	if err := idx.Add(context.Background(), vecs); err != nil {
		t.Fatal(err)
	}
	return &Pair{Index: idx, Ledger: led}
}

func assertPair(t *testing.T, snap Snapshot, n int) {
	t.Helper()
	if snap.Status != StatusLoaded {
		t.Fatalf("status = %s (cause %v), want loaded", snap.Status, snap.Cause)
	}
	if snap.Pair.Index.Size() != n || snap.Pair.Ledger.Len() != n {
		t.Fatalf("loaded %d vectors / %d records, want %d", snap.Pair.Index.Size(), snap.Pair.Ledger.Len(), n)
	}
	for i := 0; i < n; i++ {
		rec, _ := snap.Pair.Ledger.At(i)
		if want := fmt.Sprintf("c%d", i); rec.ID != want {
			t.Errorf("record %d id = %s, want %s", i, rec.ID, want)
		}
		v, _ := snap.Pair.Index.Vector(i)
		if v[0] != float32(i) {
			t.Errorf("vector %d = %v", i, v)
		}
	}
}

func TestPair_Validate(t *testing.T) {
	p := testPair(t, 2)
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	p.Ledger.Append(models.MetadataRecord{ID: "extra"})
	if err := p.Validate(); err == nil {
		t.Error("misaligned pair should not validate")
	}
	var nilPair *Pair
	if err := nilPair.Validate(); err == nil {
		t.Error("nil pair should not validate")
	}
}

func TestStatus_String(t *testing.T) {
	for s, want := range map[Status]string{StatusAbsent: "absent", StatusLoaded: "loaded", StatusCorrupt: "corrupt"} {
		if s.String() != want {
			t.Errorf("%d.String() = %s", s, s.String())
		}
	}
}

func TestPersistenceError(t *testing.T) {
	err := &PersistenceError{Op: "save", Err: ErrLocked}
	if !errors.Is(err, ErrLocked) {
		t.Error("PersistenceError should unwrap")
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	s, err := New(config.IndexConfig{Backend: config.BackendFile, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if s.Describe().Backend != "file" {
		t.Errorf("backend = %s", s.Describe().Backend)
	}
	s, err = New(config.IndexConfig{Backend: config.BackendBolt, BoltPath: dir + "/pair.db"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Describe().Backend != "bolt" {
		t.Errorf("backend = %s", s.Describe().Backend)
	}
	if _, err := New(config.IndexConfig{Backend: "s3"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

// storeContract runs the behaviour every backend must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Status != StatusAbsent || snap.Pair != nil {
			t.Errorf("got %+v, want absent", snap)
		}
	})

	t.Run("save and load", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		if err := s.Save(ctx, testPair(t, 3)); err != nil {
			t.Fatal(err)
		}
		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		assertPair(t, snap, 3)
	})

	t.Run("save replaces", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		if err := s.Save(ctx, testPair(t, 2)); err != nil {
			t.Fatal(err)
		}
		if err := s.Save(ctx, testPair(t, 5)); err != nil {
			t.Fatal(err)
		}
		snap, _ := s.Load(ctx)
		assertPair(t, snap, 5)
	})

	t.Run("empty pair", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		if err := s.Save(ctx, testPair(t, 0)); err != nil {
			t.Fatal(err)
		}
		snap, _ := s.Load(ctx)
		assertPair(t, snap, 0)
	})

	t.Run("rejects misaligned pair", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		if err := s.Save(ctx, testPair(t, 2)); err != nil {
			t.Fatal(err)
		}
		bad := testPair(t, 1)
		bad.Ledger.Append(models.MetadataRecord{ID: "orphan"})
		err := s.Save(ctx, bad)
		var pErr *PersistenceError
		if !errors.As(err, &pErr) || pErr.Op != "validate" {
			t.Fatalf("expected validate PersistenceError, got %v", err)
		}
		snap, _ := s.Load(ctx)
		assertPair(t, snap, 2)
	})

	t.Run("lock is exclusive", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		unlock, err := s.Lock(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Save(ctx, testPair(t, 1)); err != nil {
			t.Fatalf("save under lock: %v", err)
		}
		snap, err := s.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		assertPair(t, snap, 1)
		if err := unlock(); err != nil {
			t.Fatal(err)
		}
		unlock, err = s.Lock(ctx)
		if err != nil {
			t.Fatalf("relock after unlock: %v", err)
		}
		_ = unlock()
	})

	t.Run("canceled context", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := s.Load(cctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Load: expected context.Canceled, got %v", err)
		}
		if err := s.Save(cctx, testPair(t, 1)); !errors.Is(err, context.Canceled) {
			t.Errorf("Save: expected context.Canceled, got %v", err)
		}
	})

	t.Run("describe", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		if err := s.Save(ctx, testPair(t, 4)); err != nil {
			t.Fatal(err)
		}
		info := s.Describe()
		if len(info.Paths) != 1 || info.DiskUsageBytes <= 0 {
			t.Errorf("describe: %+v", info)
		}
	})
}
