// Package pipeline runs the reflection loop over pending decisions.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-reflector/internal/analysis"
	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/logging"
	"trade-reflector/internal/models"
	"trade-reflector/internal/reflection"
	"trade-reflector/internal/store"
)

// Stage names reported with failures.
const (
	StageFetch    = "fetch"
	StageAnalyze  = "analyze"
	StageGenerate = "generate"
	StageCommit   = "commit"
)

// DefaultMinSamplesWarning is the sample count below which a window is
// logged as thin.
const DefaultMinSamplesWarning = 12

// WindowFetcher provides the price window following a decision.
type WindowFetcher interface {
	Fetch(ctx context.Context, symbol string, anchor time.Time, windowHours int) (models.PriceWindow, error)
}

// Store is the subset of store.DecisionStore the pipeline needs.
type Store interface {
	Pending(ctx context.Context, filter store.PendingFilter) ([]models.Decision, error)
	Commit(ctx context.Context, id int64, analysis models.Analysis) error
	RecordRun(ctx context.Context, run *models.RunSummary) (int64, error)
}

// Options controls a run.
type Options struct {
	MinAgeHours       int
	WindowHours       int
	Symbol            string
	Limit             int
	DryRun            bool // analyze and generate without committing
	MinSamplesWarning int
}

// Pipeline analyzes pending decisions one at a time.
type Pipeline struct {
	store     Store
	windows   WindowFetcher
	generator reflection.Generator
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a pipeline.
func New(s Store, windows WindowFetcher, generator reflection.Generator, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.MinSamplesWarning <= 0 {
		opts.MinSamplesWarning = DefaultMinSamplesWarning
	}
	return &Pipeline{
		store:     s,
		windows:   windows,
		generator: generator,
		opts:      opts,
		now:       time.Now,
		logger:    logging.WithOperation(logger, "reflect"),
	}
}

// SetClock overrides the clock used for reflection timestamps.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Run lists pending decisions once and processes them oldest first. A
// failing decision is recorded in the report and the run continues. Run
// returns an error only when the pending list cannot be read, or with the
// partial report when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	report := newRunReport(p.now(), p.opts.DryRun)

	decisions, err := p.store.Pending(ctx, store.PendingFilter{
		MinAgeHours: p.opts.MinAgeHours,
		Symbol:      p.opts.Symbol,
		Limit:       p.opts.Limit,
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to list pending decisions")
		if apperrors.Is(err, apperrors.ErrStoreUnavailable) {
			return nil, apperrors.Wrap(err, "listing pending decisions")
		}
		return nil, fmt.Errorf("%w: listing pending decisions: %w", apperrors.ErrStoreUnavailable, err)
	}

	p.logger.Info().
		Int("pending", len(decisions)).
		Bool("dry_run", p.opts.DryRun).
		Msg("Starting reflection run")

	var runErr error
	for i := range decisions {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		d := &decisions[i]
		log := logging.WithDecision(p.logger, d.ID, d.Symbol)

		a, samples, stage, err := p.process(ctx, d, log)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				log.Warn().Str("stage", stage).Msg("Run cancelled while processing decision")
				runErr = ctxErr
				break
			}
			kind := report.fail(d, stage, err)
			event := log.Warn()
			if kind == apperrors.KindPersistence {
				event = log.Error()
			}
			event.Err(err).Str("stage", stage).Str("error_kind", string(kind)).Msg("Decision failed")
			continue
		}

		report.succeed(d, a, samples)
		log.Info().
			Str("kind", string(d.Kind)).
			Str("result", string(a.Classification)).
			Float64("profit_loss", a.ProfitLoss).
			Msg("Decision analyzed")
	}

	report.FinishedAt = p.now()
	p.recordRun(ctx, report)

	p.logger.Info().
		Int("considered", report.Stats.Considered).
		Int("succeeded", report.Stats.Succeeded).
		Int("failed", report.Stats.Failed).
		Float64("avg_profit_loss", report.Stats.AvgProfitLoss).
		Msg("Reflection run finished")

	return report, runErr
}

// process takes one decision through fetch, analyze, generate and commit.
// It returns the stage that failed together with the error.
func (p *Pipeline) process(ctx context.Context, d *models.Decision, log zerolog.Logger) (*models.Analysis, int, string, error) {
	w, err := p.windows.Fetch(ctx, d.Symbol, d.Timestamp, p.opts.WindowHours)
	if err != nil {
		return nil, 0, StageFetch, err
	}
	log.Debug().
		Int("samples", w.Len()).
		Time("window_start", w.Start()).
		Time("window_end", w.End()).
		Msg("Price window fetched")
	if w.Len() < p.opts.MinSamplesWarning {
		log.Warn().Int("samples", w.Len()).Msg("Thin price window")
	}

	a, err := analysis.Analyze(d, w)
	if err != nil {
		return nil, w.Len(), StageAnalyze, err
	}
	log.Debug().Str("result", string(a.Classification)).Float64("profit_loss", a.ProfitLoss).Msg("Outcome computed")

	text, err := p.generator.Generate(ctx, d, a, w)
	if err != nil {
		return nil, w.Len(), StageGenerate, err
	}
	a.Reflection = text
	a.ReflectedAt = p.now().UTC()
	log.Debug().Msg("Reflection generated")

	if p.opts.DryRun {
		return a, w.Len(), "", nil
	}
	if err := p.store.Commit(ctx, d.ID, *a); err != nil {
		return nil, w.Len(), StageCommit, err
	}
	return a, w.Len(), "", nil
}

func (p *Pipeline) recordRun(ctx context.Context, report *RunReport) {
	id, err := p.store.RecordRun(context.WithoutCancel(ctx), report.Summary())
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record run history")
		return
	}
	p.logger.Debug().Int64("run_id", id).Msg("Run history recorded")
}
