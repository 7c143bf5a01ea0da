package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// acquireLockFile creates path exclusively. A lock file untouched for staleAfter is
// assumed to belong to a crashed process and is removed once before retrying. While
// held, the lock file's mtime is refreshed so a live holder never looks stale.
func acquireLockFile(path string, staleAfter time.Duration, logger *zap.Logger) (func() error, error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			stop := heartbeat(path, staleAfter, logger)
			var once sync.Once
			return func() error {
				var err error
				once.Do(func() {
					stop()
					if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
						err = fmt.Errorf("failed to release lock: %w", rerr)
					}
				})
				return err
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			if errors.Is(statErr, fs.ErrNotExist) && attempt == 0 {
				continue
			}
			return nil, ErrLocked
		}
		age := time.Since(info.ModTime())
		if attempt > 0 || staleAfter <= 0 || age < staleAfter {
			return nil, ErrLocked
		}
		logger.Warn("breaking stale index lock",
			zap.String("path", path),
			zap.Duration("age", age))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
}

// heartbeat touches path every staleAfter/3 until the returned stop func is called.
func heartbeat(path string, staleAfter time.Duration, logger *zap.Logger) func() {
	if staleAfter <= 0 {
		return func() {}
	}
	interval := max(staleAfter/3, time.Millisecond)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := time.Now()
				if err := os.Chtimes(path, now, now); err != nil && !errors.Is(err, fs.ErrNotExist) {
					logger.Warn("failed to refresh index lock", zap.String("path", path), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
