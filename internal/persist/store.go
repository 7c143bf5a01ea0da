// Package persist loads and saves the vector index and its metadata ledger as one unit.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/vecsync/internal/config"
	"github.com/hyperjump/vecsync/internal/ledger"
	"github.com/hyperjump/vecsync/internal/vector"
	"go.uber.org/zap"
)

// ErrLocked is returned by Lock when another process holds the store.
var ErrLocked = errors.New("index store is locked by another process")

// Pair is a vector index together with its positionally aligned ledger.
type Pair struct {
	Index  vector.VectorIndex
	Ledger *ledger.Ledger
}

// Validate checks that the index and ledger are aligned.
func (p *Pair) Validate() error {
	if p == nil || p.Index == nil || p.Ledger == nil {
		return errors.New("incomplete index/ledger pair")
	}
	if p.Index.Size() != p.Ledger.Len() {
		return fmt.Errorf("index holds %d vectors but ledger holds %d records", p.Index.Size(), p.Ledger.Len())
	}
	return nil
}

// Status describes what Load found.
type Status int

const (
	StatusAbsent Status = iota
	StatusLoaded
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "absent"
	}
}

// Snapshot is the result of Load. Pair is nil unless Status is StatusLoaded;
// Cause explains a StatusCorrupt result.
type Snapshot struct {
	Pair   *Pair
	Status Status
	Cause  error
}

func loaded(p *Pair) Snapshot { return Snapshot{Pair: p, Status: StatusLoaded} }
func corrupt(cause error) Snapshot { return Snapshot{Status: StatusCorrupt, Cause: cause} }
func absent() Snapshot { return Snapshot{Status: StatusAbsent} }

// PersistenceError reports a failed store operation. The previously persisted pair is
// left intact when Save fails.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Info describes a store for status reporting.
type Info struct {
	Backend        string   `json:"backend"`
	Paths          []string `json:"paths"`
	DiskUsageBytes int64    `json:"disk_usage_bytes"`
}

// Store persists the index/ledger pair.
//
// Load never fails for missing or damaged state: it reports StatusAbsent or StatusCorrupt
// instead, and returns an error only when ctx is done or another process keeps the
// store busy past the busy timeout (ErrLocked). Save writes both halves or
// neither. Lock provides mutual exclusion between processes sharing the store.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, pair *Pair) error
	Lock(ctx context.Context) (unlock func() error, err error)
	Describe() Info
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	staleAfter  time.Duration
	busyTimeout time.Duration
}

const defaultBusyTimeout = 5 * time.Second

// WithLogger sets the logger for warnings about cleanup and lock recovery.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLockStaleAfter sets the age after which an abandoned lock file is broken.
// Zero disables stale lock breaking.
func WithLockStaleAfter(d time.Duration) Option {
	return func(o *options) {
		o.staleAfter = d
	}
}

// WithBusyTimeout bounds how long Load waits for another process's write lock before
// returning ErrLocked. Non-positive values keep the default.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the store selected by cfg.Backend.
func New(cfg config.IndexConfig, opts ...Option) (Store, error) {
	opts = append([]Option{WithLockStaleAfter(cfg.LockStaleAfter), WithBusyTimeout(cfg.BusyTimeout)}, opts...)
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.Dir, opts...), nil
	case config.BackendBolt:
		return NewBoltStore(cfg.BoltPath, opts...), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}
