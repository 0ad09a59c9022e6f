package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
)

// Property: Pending returns exactly the unanalyzed decisions at least
// MinAgeHours old, ordered by timestamp then id.
func TestProperty_PendingEligibility(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	run := 0

	properties.Property("pending is eligible and ordered", prop.ForAll(
		func(ages []int, minAge int) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("SYM%d", run)

			expected := 0
			for _, age := range ages {
				if _, err := s.Record(ctx, &models.Decision{
					Timestamp: testNow.Add(-time.Duration(age) * time.Hour),
					Symbol:    symbol,
					Kind:      models.KindBuy,
					Price:     100,
				}); err != nil {
					t.Logf("record: %v", err)
					return false
				}
				if age >= minAge {
					expected++
				}
			}

			pending, err := s.Pending(ctx, PendingFilter{MinAgeHours: minAge, Symbol: symbol})
			if err != nil {
				t.Logf("pending: %v", err)
				return false
			}
			if len(pending) != expected {
				return false
			}

			cutoff := testNow.Add(-time.Duration(minAge) * time.Hour)
			for i, d := range pending {
				if d.Timestamp.After(cutoff) || d.Analyzed() {
					return false
				}
				if i == 0 {
					continue
				}
				prev := pending[i-1]
				if d.Timestamp.Before(prev.Timestamp) {
					return false
				}
				if d.Timestamp.Equal(prev.Timestamp) && d.ID < prev.ID {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(0, 96)),
		gen.IntRange(1, 48),
	))

	properties.TestingRun(t)
}

// Property: a committed decision never appears in Pending again and a
// second commit is rejected without changing the stored analysis.
func TestProperty_CommitIsFinal(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	run := 0

	properties.Property("commit happens at most once", prop.ForAll(
		func(pl float64, again float64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("FIN%d", run)

			id, err := s.Record(ctx, &models.Decision{
				Timestamp: testNow.Add(-48 * time.Hour),
				Symbol:    symbol,
				Kind:      models.KindSell,
				Price:     100,
			})
			if err != nil {
				return false
			}

			a := sampleAnalysis()
			a.ProfitLoss = pl
			if err := s.Commit(ctx, id, a); err != nil {
				t.Logf("commit: %v", err)
				return false
			}

			b := sampleAnalysis()
			b.ProfitLoss = again
			b.Reflection = "rewritten"
			if err := s.Commit(ctx, id, b); !apperrors.Is(err, apperrors.ErrAlreadyAnalyzed) {
				return false
			}

			pending, err := s.Pending(ctx, PendingFilter{Symbol: symbol})
			if err != nil || len(pending) != 0 {
				return false
			}

			got, err := s.Get(ctx, id)
			if err != nil || !got.Analyzed() {
				return false
			}
			return got.Analysis.ProfitLoss == pl && got.Analysis.Reflection == a.Reflection
		},
		gen.Float64Range(-1, 1),
		gen.Float64Range(-1, 1),
	))

	properties.TestingRun(t)
}
