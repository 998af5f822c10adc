package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
)

const (
	selectionFile = "selection.json"
	failuresDir   = "failures"
)

// FileStore keeps run artifacts as JSON documents under a root directory:
//
//	<root>/<run_date>/batch_NN.json
//	<root>/<run_date>/selection.json
//	<root>/failures/<operation>_<unix_ms>.json
type FileStore struct {
	root string
}

var _ domrepo.Store = (*FileStore)(nil)

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.root, failuresDir), 0o755); err != nil {
		return fmt.Errorf("file store init: %w", err)
	}
	return nil
}

func (s *FileStore) SaveOutcome(ctx context.Context, runDate string, o models.BatchOutcome) error {
	path := filepath.Join(s.root, runDate, fmt.Sprintf("batch_%02d.json", o.BatchIndex))
	if err := writeJSONAtomic(path, o); err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

func (s *FileStore) ListOutcomes(ctx context.Context, runDate string) ([]models.BatchOutcome, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, runDate, "batch_*.json"))
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	out := make([]models.BatchOutcome, 0, len(matches))
	for _, m := range matches {
		var o models.BatchOutcome
		if err := readJSON(m, &o); err != nil {
			return nil, fmt.Errorf("list outcomes: %w", err)
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchIndex < out[j].BatchIndex })
	return out, nil
}

func (s *FileStore) SaveSelection(ctx context.Context, sel models.SelectionResult) error {
	if err := writeJSONAtomic(filepath.Join(s.root, sel.RunDate, selectionFile), sel); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

// LatestSelection returns the selection of the most recent run date that has one.
func (s *FileStore) LatestSelection(ctx context.Context) (*models.SelectionResult, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest selection: %w", err)
	}
	dates := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && e.Name() != failuresDir {
			dates = append(dates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	for _, d := range dates {
		var sel models.SelectionResult
		err := readJSON(filepath.Join(s.root, d, selectionFile), &sel)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("latest selection: %w", err)
		}
		return &sel, nil
	}
	return nil, models.ErrNotFound
}

func (s *FileStore) SaveFailures(ctx context.Context, operation string, at time.Time, records []models.FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	name := fmt.Sprintf("%s_%d.json", sanitizeName(operation), at.UnixMilli())
	doc := struct {
		Operation string                 `json:"operation"`
		At        time.Time              `json:"at"`
		Failures  []models.FailureRecord `json:"failures"`
	}{operation, at.UTC(), records}
	if err := writeJSONAtomic(filepath.Join(s.root, failuresDir, name), doc); err != nil {
		return fmt.Errorf("save failures: %w", err)
	}
	return nil
}

func (s *FileStore) Health(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("file store health: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file store health: %s is not a directory", s.root)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// writeJSONAtomic writes v next to path and renames it into place,
// so readers never observe a partially written document.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func readJSON(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
