// Package pipeline runs the upstream collaborator stages and then the embed stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/hyperjump/vecsync/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// ErrNoCommand marks a stage that has nothing configured to run.
var ErrNoCommand = errors.New("no command configured")

// Stage is one upstream collaborator (crawl, download, clean, chunk).
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// UpstreamStageError reports a failed collaborator stage. It is logged and never stops
// the pipeline.
type UpstreamStageError struct {
	Stage string
	Err   error
}

func (e *UpstreamStageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *UpstreamStageError) Unwrap() error { return e.Err }

// CommandStage runs an external command. Its stdout and stderr are forwarded to the logger.
type CommandStage struct {
	cfg    config.StageConfig
	logger *zap.Logger
}

// NewCommandStage returns a stage for cfg. A nil logger discards command output.
func NewCommandStage(cfg config.StageConfig, logger *zap.Logger) *CommandStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandStage{cfg: cfg, logger: logger}
}

// StagesFromConfig builds command stages in configured order.
func StagesFromConfig(cfgs []config.StageConfig, logger *zap.Logger) []Stage {
	stages := make([]Stage, 0, len(cfgs))
	for _, c := range cfgs {
		stages = append(stages, NewCommandStage(c, logger))
	}
	return stages
}

// Name returns the configured stage name.
func (s *CommandStage) Name() string { return s.cfg.Name }

// Run executes the command and waits for it. A non-zero exit is an error.
func (s *CommandStage) Run(ctx context.Context) error {
	if s.cfg.Command == "" {
		return ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)

	log := s.logger.With(zap.String("stage", s.cfg.Name))
	stdout := &zapio.Writer{Log: log, Level: zapcore.DebugLevel}
	stderr := &zapio.Writer{Log: log, Level: zapcore.WarnLevel}
	defer stdout.Close()
	defer stderr.Close()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", s.cfg.Command, err)
	}
	return nil
}

// FuncStage adapts a function to Stage.
type FuncStage struct {
	StageName string
	Fn        func(ctx context.Context) error
}

// Name returns the stage name.
func (s FuncStage) Name() string { return s.StageName }

// Run calls Fn.
func (s FuncStage) Run(ctx context.Context) error { return s.Fn(ctx) }
