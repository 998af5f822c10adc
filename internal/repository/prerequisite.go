package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	domrepo "PickFlow/internal/domain/repository"
	"PickFlow/pkg/cache"
)

// FileMarker treats <dir>/<run_date>.done as the upstream completion signal.
// The file's modification time is the completion time.
type FileMarker struct {
	dir string
}

var _ domrepo.PrerequisiteSignal = (*FileMarker)(nil)

func NewFileMarker(dir string) *FileMarker {
	return &FileMarker{dir: dir}
}

func (m *FileMarker) path(runDate string) string {
	return filepath.Join(m.dir, runDate+".done")
}

func (m *FileMarker) Completed(ctx context.Context, runDate string) (bool, time.Time, error) {
	info, err := os.Stat(m.path(runDate))
	if errors.Is(err, os.ErrNotExist) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("stat marker: %w", err)
	}
	return true, info.ModTime(), nil
}

// Mark records completion for runDate.
func (m *FileMarker) Mark(ctx context.Context, runDate string, at time.Time) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	p := m.path(runDate)
	if err := os.WriteFile(p, []byte(at.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	return os.Chtimes(p, at, at)
}

// CacheMarker keeps the completion signal in the shared cache so that
// invocations on different hosts observe it.
type CacheMarker struct {
	c   cache.Service
	ttl time.Duration
}

var _ domrepo.PrerequisiteSignal = (*CacheMarker)(nil)

func NewCacheMarker(c cache.Service, ttl time.Duration) *CacheMarker {
	return &CacheMarker{c: c, ttl: ttl}
}

func markerKey(runDate string) string {
	return cache.Key("prereq", runDate)
}

func (m *CacheMarker) Completed(ctx context.Context, runDate string) (bool, time.Time, error) {
	var at time.Time
	err := m.c.Get(ctx, markerKey(runDate), &at)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("read marker: %w", err)
	}
	return true, at, nil
}

func (m *CacheMarker) Mark(ctx context.Context, runDate string, at time.Time) error {
	if err := m.c.Set(ctx, markerKey(runDate), at.UTC(), m.ttl); err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	return nil
}
