// Package search answers nearest-neighbor queries against the persisted index/ledger pair.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/vecsync/internal/config"
	"github.com/hyperjump/vecsync/internal/embedding"
	"github.com/hyperjump/vecsync/internal/models"
	"github.com/hyperjump/vecsync/internal/persist"
	"github.com/hyperjump/vecsync/internal/vector"
	"go.uber.org/zap"
)

// Engine runs semantic search. It loads the pair from the store on first use and keeps
// it until Invalidate is called, typically after a sync run persisted a new pair.
type Engine struct {
	store    persist.Store
	embedder embedding.Embedder
	config   *config.SearchConfig
	logger   *zap.Logger

	mu       sync.RWMutex
	pair     *persist.Pair
	status   persist.Status
	loadedAt time.Time
	loaded   bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine over store.
func NewEngine(store persist.Store, embedder embedding.Embedder, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats describes the pair currently served.
type Stats struct {
	LoadStatus string    `json:"load_status"`
	IndexType  string    `json:"index_type,omitempty"`
	IndexSize  int       `json:"index_size"`
	Dimensions int       `json:"dimensions,omitempty"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// Invalidate drops the cached pair so the next query reloads it.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pair = nil
	e.loaded = false
}

// current returns the cached pair, loading it if needed. A nil pair means there is
// nothing to search.
func (e *Engine) current(ctx context.Context) (*persist.Pair, error) {
	e.mu.RLock()
	if e.loaded {
		p := e.pair
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.pair, nil
	}
	snap, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Status == persist.StatusCorrupt {
		e.logger.Warn("persisted index unreadable, serving empty results", zap.Error(snap.Cause))
	}
	e.pair, e.status, e.loadedAt, e.loaded = snap.Pair, snap.Status, time.Now(), true
	return e.pair, nil
}

// Stats returns information about the served pair, loading it if needed.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	p, err := e.current(ctx)
	if err != nil {
		return Stats{}, err
	}
	e.mu.RLock()
	st := Stats{LoadStatus: e.status.String(), LoadedAt: e.loadedAt}
	e.mu.RUnlock()
	if p != nil {
		st.IndexType = p.Index.Type()
		st.IndexSize = p.Index.Size()
		st.Dimensions = p.Index.Dimensions()
	}
	return st, nil
}

// Search embeds the query and returns the closest ledger records, nearest first.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(e.config.DefaultLimit, e.config.MaxLimit); err != nil {
		return nil, err
	}
	response := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0),
		Query:   query.Query,
	}

	pair, err := e.current(ctx)
	if err != nil {
		return nil, err
	}
	if pair == nil || pair.Index.Size() == 0 {
		response.QueryTime = time.Since(startTime).Milliseconds()
		return response, nil
	}
	if pair.Index.Dimensions() != e.embedder.Dimensions() {
		return nil, &vector.DimensionMismatchError{Want: pair.Index.Dimensions(), Got: e.embedder.Dimensions(), Position: -1}
	}

	queryEmbedding, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	hits, err := pair.Index.Search(ctx, queryEmbedding, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	for i, h := range hits {
		rec, ok := pair.Ledger.At(h.Position)
		if !ok {
			e.logger.Warn("search hit outside ledger", zap.Int("position", h.Position))
			continue
		}
		response.Results = append(response.Results, &models.SearchResult{
			Record:   rec,
			Position: h.Position,
			Distance: h.Distance,
			Rank:     i + 1,
		})
	}
	response.Total = len(response.Results)
	response.IndexSize = pair.Index.Size()
	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}
