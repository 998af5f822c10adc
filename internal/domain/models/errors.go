package models

import "errors"

var (
	ErrEmptyHistory         = errors.New("empty price history")
	ErrMalformedData        = errors.New("malformed market data")
	ErrNotFound             = errors.New("not found")
	ErrPrerequisiteTimeout  = errors.New("prerequisite stage not complete before deadline")
	ErrStorageUnavailable   = errors.New("primary and fallback storage unavailable")
	ErrWatchlistUnavailable = errors.New("watchlist unavailable")
)
