package pipeline

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

// Property: every considered decision ends in exactly one terminal
// outcome and only successes are committed.
func TestProperty_RunAccounting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("considered = succeeded + failed", prop.ForAll(
		func(outcomes []int, moves []float64) bool {
			if len(moves) == 0 {
				moves = []float64{0}
			}
			var decisions []models.Decision
			w := &fakeWindows{closes: map[string][]float64{}}
			g := &fakeGenerator{fail: map[int64]bool{}}

			for i, outcome := range outcomes {
				id := int64(i + 1)
				symbol := fmt.Sprintf("S%d", id)
				decisions = append(decisions, decision(id, symbol, models.KindBuy, 100))
				switch outcome {
				case 0: // no data
				case 1:
					w.closes[symbol] = []float64{100 + moves[i%len(moves)]}
					g.fail[id] = true
				default:
					w.closes[symbol] = []float64{100 + moves[i%len(moves)]}
				}
			}

			s := newMemStore(decisions...)
			report, err := newTestPipeline(s, w, g, Options{}).Run(context.Background())
			if err != nil {
				return false
			}

			st := report.Stats
			if st.Considered != len(outcomes) || st.Considered != st.Succeeded+st.Failed {
				return false
			}
			if st.Gains+st.Losses+st.Neutral != st.Succeeded {
				return false
			}
			if len(s.committed) != st.Succeeded || len(report.Failures) != st.Failed {
				return false
			}
			byKind := 0
			for _, n := range report.FailuresByKind {
				byKind += n
			}
			return byKind == st.Failed &&
				report.FailuresByKind[apperrors.KindUnknown] == 0
		},
		gen.SliceOfN(12, gen.IntRange(0, 2)),
		gen.SliceOfN(4, gen.Float64Range(-50, 50)),
	))

	properties.TestingRun(t)
}
