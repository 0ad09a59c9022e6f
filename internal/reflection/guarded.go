package reflection

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
	"trade-reflector/internal/resilience"
)

// GuardedGenerator stops calling the generation service after repeated
// failures. Rejected calls fail like any other generation failure, so the
// decision stays pending for a later run.
type GuardedGenerator struct {
	next    Generator
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewGuardedGenerator wraps next with the given breaker.
func NewGuardedGenerator(next Generator, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *GuardedGenerator {
	return &GuardedGenerator{next: next, breaker: breaker, logger: logger}
}

func (g *GuardedGenerator) Generate(ctx context.Context, d *models.Decision, a *models.Analysis, w models.PriceWindow) (string, error) {
	var text string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = g.next.Generate(ctx, d, a, w)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		g.logger.Warn().
			Str("breaker", g.breaker.Name()).
			Int64("decision_id", d.ID).
			Msg("Generation skipped, service circuit is open")
		return "", apperrors.NewGenerationError(d.ID, "service unavailable", err)
	}
	return text, err
}
