package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/vecsync/internal/ledger"
	"github.com/hyperjump/vecsync/internal/vector"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketPair = []byte("pair")
	keyIndex   = []byte("index")
	keyLedger  = []byte("ledger")
	keyMeta    = []byte("meta")
)

const boltOpenTimeout = time.Second

type boltMeta struct {
	Generation string    `json:"generation"`
	Sequence   uint64    `json:"sequence"`
	IndexType  string    `json:"index_type"`
	Dimension  int       `json:"dimension"`
	Count      int       `json:"count"`
	SavedAt    time.Time `json:"saved_at"`
}

// BoltStore keeps the pair in a single bbolt file. Save is one Update transaction, so
// a reader sees either the old pair or the new one.
//
// The database is opened per operation. Lock keeps it open, which holds bbolt's file
// lock until unlock, and operations inside the lock reuse that handle.
type BoltStore struct {
	path string
	opts options
	mu   sync.Mutex
	held *bbolt.DB
}

// NewBoltStore returns a store backed by the bbolt file at path.
func NewBoltStore(path string, opts ...Option) *BoltStore {
	return &BoltStore{path: path, opts: buildOptions(opts)}
}

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.path }

func (s *BoltStore) open(readOnly bool, timeout time.Duration) (*bbolt.DB, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return nil, err
		}
	}
	return bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: timeout, ReadOnly: readOnly})
}

// unreadable reports whether an open error means the file is not a usable database:
// anything but a lock timeout on an existing, non-empty file. bbolt reports short
// files with an unexported error, so the sentinel errors alone are not enough.
func (s *BoltStore) unreadable(err error) bool {
	if err == nil || errors.Is(err, bbolt.ErrTimeout) {
		return false
	}
	if errors.Is(err, bbolt.ErrInvalid) || errors.Is(err, bbolt.ErrChecksum) || errors.Is(err, bbolt.ErrVersionMismatch) {
		return true
	}
	info, statErr := os.Stat(s.path)
	return statErr == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Load reads the pair in one read transaction. While another process holds the
// database for writing, Load retries until the busy timeout passes and then returns
// ErrLocked.
func (s *BoltStore) Load(ctx context.Context) (Snapshot, error) {
	deadline := time.Now().Add(s.opts.busyTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		wait := max(min(boltOpenTimeout, time.Until(deadline)), 10*time.Millisecond)
		snap, err := s.read(wait)
		if err == nil {
			return snap, nil
		}
		if !time.Now().Before(deadline) {
			return Snapshot{}, &PersistenceError{Op: "load", Err: ErrLocked}
		}
		s.opts.logger.Debug("index database busy, retrying", zap.String("path", s.path))
	}
}

// read returns an error only when the database is locked by another process.
func (s *BoltStore) read(timeout time.Duration) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held == nil {
		info, err := os.Stat(s.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return absent(), nil
			}
			return corrupt(err), nil
		}
		if info.Size() == 0 {
			return absent(), nil
		}
	}

	db := s.held
	if db == nil {
		var err error
		db, err = s.open(true, timeout)
		if errors.Is(err, bbolt.ErrTimeout) {
			return Snapshot{}, err
		}
		if err != nil {
			return corrupt(err), nil
		}
		defer db.Close()
	}

	var pair *Pair
	found := false
	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPair)
		if b == nil {
			return nil
		}
		found = true
		p, err := decodeBucket(b)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		return corrupt(err), nil
	}
	if !found {
		return absent(), nil
	}
	return loaded(pair), nil
}

func decodeBucket(b *bbolt.Bucket) (*Pair, error) {
	metaData, indexData, ledgerData := b.Get(keyMeta), b.Get(keyIndex), b.Get(keyLedger)
	if metaData == nil || indexData == nil || ledgerData == nil {
		return nil, errors.New("pair bucket is missing keys")
	}
	var meta boltMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	idx, err := vector.Decode(meta.IndexType, indexData)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if idx.Dimensions() != meta.Dimension || idx.Size() != meta.Count {
		return nil, fmt.Errorf("index holds %d vectors of dimension %d, meta says %d of %d",
			idx.Size(), idx.Dimensions(), meta.Count, meta.Dimension)
	}
	led := ledger.New()
	if err := json.Unmarshal(ledgerData, led); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	pair := &Pair{Index: idx, Ledger: led}
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	return pair, nil
}

// Save replaces the pair in a single write transaction. A file bbolt cannot open is
// moved aside to <path>.corrupt and replaced.
func (s *BoltStore) Save(ctx context.Context, pair *Pair) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	if err := pair.Validate(); err != nil {
		return &PersistenceError{Op: "validate", Err: err}
	}
	indexData, err := pair.Index.MarshalBinary()
	if err != nil {
		return &PersistenceError{Op: "encode index", Err: err}
	}
	ledgerData, err := json.Marshal(pair.Ledger)
	if err != nil {
		return &PersistenceError{Op: "encode ledger", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	write := func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(bucketPair)
			if err != nil {
				return err
			}
			var seq uint64 = 1
			if prev := b.Get(keyMeta); prev != nil {
				var pm boltMeta
				if json.Unmarshal(prev, &pm) == nil {
					seq = pm.Sequence + 1
				}
			}
			meta, err := json.Marshal(boltMeta{
				Generation: uuid.NewString(),
				Sequence:   seq,
				IndexType:  pair.Index.Type(),
				Dimension:  pair.Index.Dimensions(),
				Count:      pair.Index.Size(),
				SavedAt:    time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			if err := b.Put(keyIndex, indexData); err != nil {
				return err
			}
			if err := b.Put(keyLedger, ledgerData); err != nil {
				return err
			}
			return b.Put(keyMeta, meta)
		})
	}

	if s.held != nil {
		if err := write(s.held); err != nil {
			return &PersistenceError{Op: "save", Err: err}
		}
		return nil
	}

	db, err := s.open(false, boltOpenTimeout)
	if s.unreadable(err) {
		if qerr := s.quarantine(err); qerr != nil {
			return &PersistenceError{Op: "save", Err: errors.Join(err, qerr)}
		}
		db, err = s.open(false, boltOpenTimeout)
	}
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			err = ErrLocked
		}
		return &PersistenceError{Op: "save", Err: err}
	}
	defer db.Close()
	if err := write(db); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

func (s *BoltStore) quarantine(cause error) error {
	dst := s.path + ".corrupt"
	s.opts.logger.Warn("moving unreadable index database aside",
		zap.String("path", s.path),
		zap.String("moved_to", dst),
		zap.Error(cause))
	return os.Rename(s.path, dst)
}

// Lock opens the database for writing and holds it, and with it bbolt's exclusive
// file lock, until unlock is called. When the file is not a valid database the lock is
// not held; Save will replace the file.
func (s *BoltStore) Lock(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held != nil {
		return nil, &PersistenceError{Op: "lock", Err: errors.New("already locked by this store")}
	}
	db, err := s.open(false, boltOpenTimeout)
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, &PersistenceError{Op: "lock", Err: ErrLocked}
		}
		if s.unreadable(err) {
			s.opts.logger.Warn("index database unreadable, running unlocked", zap.String("path", s.path), zap.Error(err))
			return func() error { return nil }, nil
		}
		return nil, &PersistenceError{Op: "lock", Err: err}
	}
	s.held = db
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.held != db {
			return nil
		}
		s.held = nil
		return db.Close()
	}, nil
}

// Describe reports the database file and its size.
func (s *BoltStore) Describe() Info {
	usage, err := DiskUsageBytes(s.path)
	if err != nil {
		s.opts.logger.Debug("disk usage unavailable", zap.String("path", s.path), zap.Error(err))
	}
	return Info{Backend: "bolt", Paths: []string{s.path}, DiskUsageBytes: usage}
}

// Close releases a held lock, if any.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held == nil {
		return nil
	}
	err := s.held.Close()
	s.held = nil
	return err
}
