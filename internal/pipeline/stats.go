package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
)

// RunStats accumulates the terminal outcomes of a run.
type RunStats struct {
	Considered    int     `json:"considered"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	Gains         int     `json:"gains"`
	Losses        int     `json:"losses"`
	Neutral       int     `json:"neutral"`
	AvgProfitLoss float64 `json:"avg_profit_loss"` // mean over succeeded decisions

	sum decimal.Decimal
}

// succeed returns the stats with one more successful decision.
func (s RunStats) succeed(a *models.Analysis) RunStats {
	s.Considered++
	s.Succeeded++
	switch a.Classification {
	case models.Gain:
		s.Gains++
	case models.Loss:
		s.Losses++
	default:
		s.Neutral++
	}
	s.sum = s.sum.Add(decimal.NewFromFloat(a.ProfitLoss))
	s.AvgProfitLoss = s.sum.Div(decimal.NewFromInt(int64(s.Succeeded))).InexactFloat64()
	return s
}

// fail returns the stats with one more failed decision.
func (s RunStats) fail() RunStats {
	s.Considered++
	s.Failed++
	return s
}

// Result describes a successfully analyzed decision.
type Result struct {
	DecisionID     int64                 `json:"decision_id"`
	Symbol         string                `json:"symbol"`
	Kind           models.DecisionKind   `json:"kind"`
	ProfitLoss     float64               `json:"profit_loss"`
	Classification models.Classification `json:"classification"`
	Summary        string                `json:"summary"`
	Samples        int                   `json:"samples"`
}

// Failure describes a decision that could not be analyzed in this run.
type Failure struct {
	DecisionID int64               `json:"decision_id"`
	Symbol     string              `json:"symbol"`
	Stage      string              `json:"stage"`
	Kind       apperrors.ErrorKind `json:"kind"`
	Message    string              `json:"message"`
}

// RunReport is the outcome of a pipeline run.
type RunReport struct {
	StartedAt      time.Time                   `json:"started_at"`
	FinishedAt     time.Time                   `json:"finished_at"`
	DryRun         bool                        `json:"dry_run"`
	Stats          RunStats                    `json:"stats"`
	Results        []Result                    `json:"results"`
	Failures       []Failure                   `json:"failures"`
	FailuresByKind map[apperrors.ErrorKind]int `json:"failures_by_kind"`
}

func newRunReport(started time.Time, dryRun bool) *RunReport {
	return &RunReport{
		StartedAt:      started,
		DryRun:         dryRun,
		Results:        []Result{},
		Failures:       []Failure{},
		FailuresByKind: make(map[apperrors.ErrorKind]int),
	}
}

func (r *RunReport) succeed(d *models.Decision, a *models.Analysis, samples int) {
	r.Stats = r.Stats.succeed(a)
	r.Results = append(r.Results, Result{
		DecisionID:     d.ID,
		Symbol:         d.Symbol,
		Kind:           d.Kind,
		ProfitLoss:     a.ProfitLoss,
		Classification: a.Classification,
		Summary:        a.Summary,
		Samples:        samples,
	})
}

func (r *RunReport) fail(d *models.Decision, stage string, err error) apperrors.ErrorKind {
	kind := apperrors.KindOf(err)
	r.Stats = r.Stats.fail()
	r.FailuresByKind[kind]++
	r.Failures = append(r.Failures, Failure{
		DecisionID: d.ID,
		Symbol:     d.Symbol,
		Stage:      stage,
		Kind:       kind,
		Message:    err.Error(),
	})
	return kind
}

// Summary converts the report into its persisted form.
func (r *RunReport) Summary() *models.RunSummary {
	return &models.RunSummary{
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Considered:    r.Stats.Considered,
		Succeeded:     r.Stats.Succeeded,
		Failed:        r.Stats.Failed,
		Gains:         r.Stats.Gains,
		Losses:        r.Stats.Losses,
		Neutral:       r.Stats.Neutral,
		AvgProfitLoss: r.Stats.AvgProfitLoss,
		DryRun:        r.DryRun,
	}
}
