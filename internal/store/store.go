// Package store provides persistence for trading decisions and their
// reflections.
package store

import (
	"context"
	"time"

	"trade-reflector/internal/models"
)

// DefaultMinAgeHours is the minimum decision age before it is eligible for
// reflection.
const DefaultMinAgeHours = 24

// DecisionStore defines the interface for decision persistence.
type DecisionStore interface {
	// Schema
	EnsureSchema(ctx context.Context) error

	// Decisions
	Record(ctx context.Context, decision *models.Decision) (int64, error)
	Get(ctx context.Context, id int64) (*models.Decision, error)

	// Reflection lifecycle
	Pending(ctx context.Context, filter PendingFilter) ([]models.Decision, error)
	Commit(ctx context.Context, id int64, analysis models.Analysis) error
	Reflections(ctx context.Context, filter ReflectionFilter) ([]models.Decision, error)
	OutcomeStats(ctx context.Context, symbol string) (*models.OutcomeStats, error)

	// Run history
	RecordRun(ctx context.Context, run *models.RunSummary) (int64, error)
	RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error)

	// Candle cache
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)

	// Lifecycle
	Close() error
}

// PendingFilter selects decisions awaiting reflection.
type PendingFilter struct {
	MinAgeHours int    // zero means DefaultMinAgeHours
	Symbol      string // empty means every symbol
	Limit       int    // zero means no limit
}

// ReflectionFilter selects analyzed decisions.
type ReflectionFilter struct {
	Symbol string
	Limit  int
}
