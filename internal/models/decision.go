package models

import (
	"fmt"
	"strings"
	"time"
)

// DecisionKind is the trading action recorded by the upstream decision maker.
type DecisionKind string

const (
	KindBuy  DecisionKind = "BUY"
	KindSell DecisionKind = "SELL"
	KindHold DecisionKind = "HOLD"
)

// ParseDecisionKind parses a kind case-insensitively ("buy", "Buy", "BUY").
func ParseDecisionKind(s string) (DecisionKind, error) {
	switch DecisionKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindBuy:
		return KindBuy, nil
	case KindSell:
		return KindSell, nil
	case KindHold:
		return KindHold, nil
	default:
		return "", fmt.Errorf("unknown decision kind %q", s)
	}
}

// Classification is the outcome label derived from the profit/loss ratio.
type Classification string

const (
	Gain    Classification = "gain"
	Loss    Classification = "loss"
	Neutral Classification = "neutral"
)

// Decision represents a recorded trading decision and, once analyzed,
// its reflection.
type Decision struct {
	ID         int64
	Timestamp  time.Time
	Symbol     string
	Kind       DecisionKind
	Price      float64 // execution price, meaningless for HOLD
	Confidence float64
	Reason     string

	// Nil until the decision has been analyzed.
	Analysis *Analysis
}

// Analyzed reports whether the reflection fields are populated.
func (d *Decision) Analyzed() bool {
	return d.Analysis != nil && !d.Analysis.ReflectedAt.IsZero()
}

// Age returns how long ago the decision was taken relative to now.
func (d *Decision) Age(now time.Time) time.Duration {
	return now.Sub(d.Timestamp)
}

// Analysis is the outcome of reflecting on a decision. All fields are
// written together and never change afterwards.
type Analysis struct {
	ProfitLoss     float64 // signed ratio, 0.085 = +8.5%
	Classification Classification
	Summary        string
	Reflection     string
	ReflectedAt    time.Time
}

// OutcomeStats aggregates persisted analyses.
type OutcomeStats struct {
	Analyzed      int
	Pending       int
	Gains         int
	Losses        int
	Neutral       int
	AvgProfitLoss float64
	WinRate       float64 // percent of analyzed decisions classified as gain
}

// RunSummary is the persisted record of one reflection run.
type RunSummary struct {
	ID            int64
	StartedAt     time.Time
	FinishedAt    time.Time
	Considered    int
	Succeeded     int
	Failed        int
	Gains         int
	Losses        int
	Neutral       int
	AvgProfitLoss float64
	DryRun        bool
}
