package repository

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	applogger "PickFlow/pkg/logger"
)

// FileWatchlist reads the active watchlist from a YAML document.
type FileWatchlist struct {
	path string
	l    *applogger.Logger
}

var _ domrepo.Watchlist = (*FileWatchlist)(nil)

func NewFileWatchlist(path string, l *applogger.Logger) *FileWatchlist {
	if l == nil {
		l = applogger.Nop()
	}
	return &FileWatchlist{path: path, l: l}
}

type watchlistDoc struct {
	Candidates []watchlistEntry `yaml:"candidates"`
}

type watchlistEntry struct {
	InstrumentID  string    `yaml:"instrument_id"`
	DisplayName   string    `yaml:"display_name"`
	Sector        string    `yaml:"sector"`
	MarketCap     float64   `yaml:"market_cap"`
	CurrentPrice  float64   `yaml:"current_price"`
	RecentCloses  []float64 `yaml:"recent_closes"`
	RecentVolumes []float64 `yaml:"recent_volumes"`
	Active        *bool     `yaml:"active"`
}

// Candidates returns active entries in file order. Entries without an id and
// repeated ids are skipped. Any read or parse error maps to ErrWatchlistUnavailable.
func (w *FileWatchlist) Candidates(ctx context.Context) ([]models.Candidate, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrWatchlistUnavailable, err)
	}
	var doc watchlistDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrWatchlistUnavailable, w.path, err)
	}

	out := make([]models.Candidate, 0, len(doc.Candidates))
	seen := make(map[string]bool, len(doc.Candidates))
	skipped := 0
	for _, e := range doc.Candidates {
		id := strings.TrimSpace(e.InstrumentID)
		if id == "" || seen[id] || (e.Active != nil && !*e.Active) {
			skipped++
			continue
		}
		seen[id] = true
		out = append(out, models.Candidate{
			InstrumentID:  id,
			DisplayName:   e.DisplayName,
			Sector:        e.Sector,
			MarketCap:     e.MarketCap,
			CurrentPrice:  e.CurrentPrice,
			RecentCloses:  e.RecentCloses,
			RecentVolumes: e.RecentVolumes,
		})
	}
	if skipped > 0 {
		w.l.Debug("watchlist entries skipped", applogger.String("path", w.path), applogger.Int("skipped", skipped))
	}
	return out, nil
}
