// Package syncer keeps the persisted vector index and ledger in step with the chunk store,
// embedding only chunks whose ids the ledger has not seen.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/vecsync/internal/config"
	"github.com/hyperjump/vecsync/internal/embedding"
	"github.com/hyperjump/vecsync/internal/ledger"
	"github.com/hyperjump/vecsync/internal/models"
	"github.com/hyperjump/vecsync/internal/persist"
	"github.com/hyperjump/vecsync/internal/tracker"
	"github.com/hyperjump/vecsync/internal/vector"
	"go.uber.org/zap"
)

// Report summarizes one sync run.
type Report struct {
	RunID             string `json:"run_id"`
	State             State  `json:"state"`
	LoadStatus        string `json:"load_status"`
	TotalChunks       int    `json:"total_chunks"`
	ExistingRecords   int    `json:"existing_records"`
	Delta             int    `json:"delta"`
	Embedded          int    `json:"embedded"`
	DroppedDuplicates int    `json:"dropped_duplicates"`
	ChangedText       int    `json:"changed_text"`
	Persisted         bool   `json:"persisted"`
	TrackerCount      int    `json:"tracker_count"`
	DurationMS        int64  `json:"duration_ms"`
}

// Controller runs incremental syncs. Runs are serialized; the store lock additionally
// excludes other processes for the duration of a run.
type Controller struct {
	store     persist.Store
	embedder  embedding.Embedder
	tracker   *tracker.Tracker
	indexType string
	policy    string
	logger    *zap.Logger
	hook      func(runID string, s State)
	mu        sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Transitions are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStateHook registers fn to observe every state transition.
func WithStateHook(fn func(runID string, s State)) Option {
	return func(c *Controller) {
		c.hook = fn
	}
}

// WithDuplicatePolicy selects how ids repeated inside one delta are handled:
// config.DuplicateAppend embeds every occurrence, config.DuplicateFirst keeps the first.
func WithDuplicatePolicy(policy string) Option {
	return func(c *Controller) {
		if policy != "" {
			c.policy = policy
		}
	}
}

// WithIndexType sets the vector index type created when no index exists yet.
func WithIndexType(t string) Option {
	return func(c *Controller) {
		if t != "" {
			c.indexType = t
		}
	}
}

// NewController wires the controller to its store, embedder and tracker.
func NewController(store persist.Store, embedder embedding.Embedder, tr *tracker.Tracker, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		embedder:  embedder,
		tracker:   tr,
		indexType: string(vector.IndexTypeMemory),
		policy:    config.DuplicateAppend,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run carries the per-sync state.
type run struct {
	c      *Controller
	report *Report
	log    *zap.Logger
}

func (r *run) enter(s State) {
	r.report.State = s
	r.log.Debug("sync state", zap.Stringer("state", s))
	if r.c.hook != nil {
		r.c.hook(r.report.RunID, s)
	}
}

func (r *run) fail(step State, err error) (*Report, error) {
	r.enter(StateError)
	r.log.Error("sync failed", zap.Stringer("step", step), zap.Error(err))
	return r.report, &SyncError{RunID: r.report.RunID, State: step, Err: err}
}

// Sync brings the persisted pair up to date with chunks. Chunks whose id is already in
// the ledger are skipped; the rest are embedded in order, appended, and persisted as
// one unit. The tracker is updated only after the pair is durably saved. On error the
// persisted pair and tracker are left as they were.
func (c *Controller) Sync(ctx context.Context, chunks []models.Chunk) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	r := &run{
		c:      c,
		report: &Report{RunID: uuid.NewString(), TotalChunks: len(chunks)},
	}
	r.log = c.logger.With(zap.String("run_id", r.report.RunID))
	defer func() { r.report.DurationMS = time.Since(start).Milliseconds() }()

	r.enter(StateNoIndex)
	unlock, err := c.store.Lock(ctx)
	if err != nil {
		return r.fail(StateNoIndex, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			r.log.Warn("failed to release index lock", zap.Error(err))
		}
	}()

	r.enter(StateLoadingExisting)
	snap, err := c.store.Load(ctx)
	if err != nil {
		return r.fail(StateLoadingExisting, err)
	}
	r.report.LoadStatus = snap.Status.String()
	pair := snap.Pair
	switch snap.Status {
	case persist.StatusCorrupt:
		r.log.Warn("persisted index unreadable, rebuilding from all chunks", zap.Error(snap.Cause))
	case persist.StatusAbsent:
		r.log.Info("no persisted index, embedding all chunks")
	}
	if pair != nil {
		r.report.ExistingRecords = pair.Ledger.Len()
		if got := c.embedder.Dimensions(); pair.Index.Dimensions() != got {
			return r.fail(StateLoadingExisting, &vector.DimensionMismatchError{
				Want: pair.Index.Dimensions(), Got: got, Position: -1,
			})
		}
	}

	r.enter(StateDiffingChunks)
	var existing *ledger.Ledger
	if pair != nil {
		existing = pair.Ledger
	}
	delta, err := r.diff(chunks, existing)
	if err != nil {
		return r.fail(StateDiffingChunks, err)
	}
	r.report.Delta = len(delta)

	if len(delta) == 0 {
		r.repairTracker(r.report.ExistingRecords, pair != nil)
		r.enter(StateDone)
		r.log.Info("sync complete, nothing to embed",
			zap.Int("chunks", len(chunks)),
			zap.Int("records", r.report.ExistingRecords))
		return r.report, nil
	}

	r.enter(StateEmbeddingDelta)
	texts := make([]string, len(delta))
	for i, ch := range delta {
		texts[i] = ch.Text
	}
	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return r.fail(StateEmbeddingDelta, err)
	}
	if len(vectors) != len(delta) {
		return r.fail(StateEmbeddingDelta, &embedding.EmbeddingError{
			Index: -1, Err: fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(delta)),
		})
	}
	r.report.Embedded = len(vectors)

	r.enter(StateAppending)
	if pair == nil {
		idx, err := vector.NewVectorIndex(c.indexType, c.embedder.Dimensions())
		if err != nil {
			return r.fail(StateAppending, err)
		}
		pair = &persist.Pair{Index: idx, Ledger: ledger.New()}
	}
	if err := pair.Index.Add(ctx, vectors); err != nil {
		return r.fail(StateAppending, err)
	}
	records := make([]models.MetadataRecord, len(delta))
	for i, ch := range delta {
		records[i] = models.RecordFromChunk(ch)
	}
	pair.Ledger.Append(records...)
	if err := pair.Validate(); err != nil {
		return r.fail(StateAppending, err)
	}

	r.enter(StatePersisting)
	if err := c.store.Save(ctx, pair); err != nil {
		return r.fail(StatePersisting, err)
	}
	r.report.Persisted = true
	count := pair.Ledger.Len()
	if err := c.tracker.Write(count); err != nil {
		return r.fail(StatePersisting, fmt.Errorf("tracker: %w", err))
	}
	r.report.TrackerCount = count

	r.enter(StateDone)
	r.log.Info("sync complete",
		zap.Int("chunks", len(chunks)),
		zap.Int("embedded", len(delta)),
		zap.Int("records", count))
	return r.report, nil
}

// diff returns the chunks whose ids are not in existing, in input order.
func (r *run) diff(chunks []models.Chunk, existing *ledger.Ledger) ([]models.Chunk, error) {
	var known map[string]string
	if existing != nil {
		known = existing.HashesByID()
	}
	seen := make(map[string]bool)
	changed := make(map[string]bool)
	delta := make([]models.Chunk, 0)
	for i, ch := range chunks {
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		if hash, ok := known[ch.ID]; ok {
			if hash != models.TextHash(ch.Text) && !changed[ch.ID] {
				changed[ch.ID] = true
				r.log.Warn("chunk text changed under a known id, keeping the indexed version",
					zap.String("id", ch.ID))
			}
			continue
		}
		if seen[ch.ID] {
			if r.c.policy == config.DuplicateFirst {
				r.report.DroppedDuplicates++
				r.log.Warn("duplicate chunk id in delta, dropping later occurrence", zap.String("id", ch.ID))
				continue
			}
			r.log.Warn("duplicate chunk id in delta, appending another record", zap.String("id", ch.ID))
		}
		seen[ch.ID] = true
		delta = append(delta, ch)
	}
	r.report.ChangedText = len(changed)
	return delta, nil
}

// repairTracker rewrites a tracker that disagrees with the ledger. It never fails the run.
func (r *run) repairTracker(count int, havePair bool) {
	st, found, err := r.c.tracker.Load()
	switch {
	case err != nil:
		r.log.Warn("tracker unreadable, rewriting", zap.Error(err))
	case found && st.Count == count:
		r.report.TrackerCount = count
		return
	case !found && !havePair:
		return
	default:
		r.log.Info("tracker stale, rewriting", zap.Int("tracker", st.Count), zap.Int("records", count))
	}
	if err := r.c.tracker.Write(count); err != nil {
		r.log.Warn("failed to repair tracker", zap.Error(err))
		return
	}
	r.report.TrackerCount = count
}
