package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hyperjump/vecsync/internal/config"
	"github.com/hyperjump/vecsync/internal/models"
	"github.com/hyperjump/vecsync/internal/persist"
	"github.com/hyperjump/vecsync/internal/search"
	"github.com/hyperjump/vecsync/internal/syncer"
	"github.com/hyperjump/vecsync/internal/tracker"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if query.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query cannot be empty")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, loadErrorStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		s.respondError(w, http.StatusNotImplemented, "sync not enabled")
		return
	}
	report, err := s.sync.Embed(r.Context())
	if report != nil && report.Persisted {
		s.engine.Invalidate()
	}
	if err != nil {
		s.logger.Error("sync failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, persist.ErrLocked) {
			status = http.StatusConflict
		}
		s.respondJSON(w, status, syncFailure{Error: err.Error(), Report: report})
		return
	}
	if report == nil {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": "no chunks found"})
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := CollectStatus(r.Context(), s.engine, s.store, s.tracker, s.config, s.logger)
	if err != nil {
		s.logger.Error("status: load index failed", zap.Error(err))
		s.respondError(w, loadErrorStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// CollectStatus builds the status document served by GET /api/v1/status. tr and cfg
// may be nil.
func CollectStatus(
	ctx context.Context,
	engine *search.Engine,
	store persist.Store,
	tr *tracker.Tracker,
	cfg *config.Config,
	logger *zap.Logger,
) (map[string]interface{}, error) {
	stats, err := engine.Stats(ctx)
	if err != nil {
		return nil, err
	}
	resp := map[string]interface{}{
		"index": stats,
		"store": store.Describe(),
	}
	if tr != nil {
		st, found, err := tr.Load()
		switch {
		case err != nil:
			logger.Warn("status: tracker unreadable", zap.Error(err))
			resp["tracker"] = map[string]interface{}{"path": tr.Path(), "error": err.Error()}
		case found:
			resp["tracker"] = map[string]interface{}{"path": tr.Path(), "count": st.Count}
		default:
			resp["tracker"] = map[string]interface{}{"path": tr.Path()}
		}
	}
	if cfg != nil {
		resp["config"] = map[string]interface{}{
			"chunk_source":         cfg.Chunks.Source,
			"chunk_path":           cfg.Chunks.WatchedPath(),
			"embedding_provider":   cfg.Embedding.Provider,
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"index_type":           cfg.Index.Type,
			"index_backend":        cfg.Index.Backend,
			"duplicate_policy":     cfg.Sync.DuplicatePolicy,
		}
	}
	return resp, nil
}

// syncFailure is the body of a failed sync response.
type syncFailure struct {
	Error  string         `json:"error"`
	Report *syncer.Report `json:"report,omitempty"`
}

// loadErrorStatus maps a store busy with another writer to 503 so clients can retry.
func loadErrorStatus(err error) int {
	if errors.Is(err, persist.ErrLocked) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
