package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/vecsync/internal/chunkstore"
	"github.com/hyperjump/vecsync/internal/models"
	"github.com/hyperjump/vecsync/internal/syncer"
	"go.uber.org/zap"
)

// Syncer is the embed stage's view of the sync controller.
type Syncer interface {
	Sync(ctx context.Context, chunks []models.Chunk) (*syncer.Report, error)
}

// Stage outcomes.
const (
	StageOK      = "ok"
	StageFailed  = "failed"
	StageSkipped = "skipped"
)

// StageResult is the outcome of one collaborator stage.
type StageResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Stages []StageResult  `json:"stages"`
	Chunks int            `json:"chunks"`
	Sync   *syncer.Report `json:"sync,omitempty"`
}

// Runner runs the collaborator stages once each, then the embed stage.
type Runner struct {
	stages []Stage
	reader chunkstore.Reader
	syncer Syncer
	logger *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger for stage and embed outcomes.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithStages sets the collaborator stages run before embedding.
func WithStages(stages ...Stage) RunnerOption {
	return func(r *Runner) {
		r.stages = stages
	}
}

// NewRunner returns a runner that embeds chunks read by reader through s.
func NewRunner(reader chunkstore.Reader, s Syncer, opts ...RunnerOption) *Runner {
	r := &Runner{reader: reader, syncer: s, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every stage in order. A failing stage is logged and the next one runs
// regardless. The returned error is the embed stage's error, or ctx's if the run was
// canceled.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.logger.Info("starting pipeline", zap.Int("stages", len(r.stages)))
	res := &Result{Stages: make([]StageResult, 0, len(r.stages))}
	for _, st := range r.stages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Stages = append(res.Stages, r.runStage(ctx, st))
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	chunks, rep, err := r.embed(ctx)
	res.Chunks = chunks
	res.Sync = rep
	r.logger.Info("pipeline completed")
	return res, err
}

func (r *Runner) runStage(ctx context.Context, st Stage) StageResult {
	start := time.Now()
	err := st.Run(ctx)
	out := StageResult{Name: st.Name(), Status: StageOK, DurationMS: time.Since(start).Milliseconds()}
	switch {
	case errors.Is(err, ErrNoCommand):
		out.Status = StageSkipped
		r.logger.Info("stage skipped, no command configured", zap.String("stage", st.Name()))
	case err != nil:
		stageErr := &UpstreamStageError{Stage: st.Name(), Err: err}
		out.Status = StageFailed
		out.Error = stageErr.Error()
		r.logger.Error("stage failed", zap.String("stage", st.Name()), zap.Error(stageErr))
	default:
		r.logger.Info("stage completed", zap.String("stage", st.Name()), zap.Int64("duration_ms", out.DurationMS))
	}
	return out
}

// Embed runs only the embed stage: load the chunk store and sync it.
func (r *Runner) Embed(ctx context.Context) (*syncer.Report, error) {
	_, rep, err := r.embed(ctx)
	return rep, err
}

func (r *Runner) embed(ctx context.Context) (int, *syncer.Report, error) {
	chunks, err := r.reader.LoadAll(ctx)
	if err != nil {
		var loadErr *chunkstore.ChunkLoadError
		if !errors.As(err, &loadErr) {
			return 0, nil, err
		}
		if loadErr.Absent {
			r.logger.Info("chunk store not found", zap.String("path", loadErr.Path))
		} else {
			r.logger.Warn("chunk store unreadable, treating as empty", zap.String("path", loadErr.Path), zap.Error(loadErr.Err))
		}
	}
	if len(chunks) == 0 {
		r.logger.Warn("no chunks found, skipping embedding stage")
		return 0, nil, nil
	}
	rep, err := r.syncer.Sync(ctx, chunks)
	return len(chunks), rep, err
}
