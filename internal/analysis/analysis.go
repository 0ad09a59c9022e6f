// Package analysis computes the outcome of a past decision from the price
// action that followed it.
package analysis

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
)

// ratioPrecision is the number of decimal places kept when dividing by the
// execution price. It is large enough that any non-zero price difference
// yields a non-zero ratio.
const ratioPrecision = 32

// DeadBand is the symmetric threshold around zero inside which an outcome
// is neutral. Values exactly on the edge are neutral as well.
var DeadBand = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// Analyze maps a decision and the window that followed it to a profit/loss
// ratio, a classification and a summary sentence. Reflection and
// ReflectedAt are left empty for the generator and the store to fill.
//
// Analyze performs no I/O. It fails only on malformed input: an empty
// window, or a BUY/SELL without a positive execution price.
func Analyze(d *models.Decision, w models.PriceWindow) (*models.Analysis, error) {
	if d == nil {
		return nil, apperrors.Preconditionf("nil decision")
	}
	if w.Empty() {
		return nil, apperrors.Preconditionf("empty price window for decision %d", d.ID)
	}

	avg := w.AverageClose()

	if d.Kind == models.KindHold {
		return &models.Analysis{
			ProfitLoss:     0,
			Classification: models.Neutral,
			Summary:        summarize(d, avg, decimal.Zero, models.Neutral, w.Len()),
		}, nil
	}

	if d.Price <= 0 {
		return nil, apperrors.Preconditionf("decision %d: %s without a positive execution price", d.ID, d.Kind)
	}
	price := decimal.NewFromFloat(d.Price)

	var diff decimal.Decimal
	switch d.Kind {
	case models.KindBuy:
		diff = avg.Sub(price)
	case models.KindSell:
		// A sell profits when the price falls after the position is closed.
		diff = price.Sub(avg)
	default:
		return nil, apperrors.Preconditionf("decision %d: unknown kind %q", d.ID, d.Kind)
	}

	ratio := diff.DivRound(price, ratioPrecision)
	class := Classify(ratio)

	return &models.Analysis{
		ProfitLoss:     ratio.InexactFloat64(),
		Classification: class,
		Summary:        summarize(d, avg, ratio, class, w.Len()),
	}, nil
}

// Classify applies the dead band to a signed ratio.
func Classify(ratio decimal.Decimal) models.Classification {
	switch {
	case ratio.GreaterThan(DeadBand):
		return models.Gain
	case ratio.LessThan(DeadBand.Neg()):
		return models.Loss
	default:
		return models.Neutral
	}
}

func summarize(d *models.Decision, avg, ratio decimal.Decimal, class models.Classification, hours int) string {
	avgStr := avg.StringFixed(2)

	if d.Kind == models.KindHold {
		if d.Price <= 0 {
			return fmt.Sprintf("HOLD. Average price over the next %dh was %s. No position taken.", hours, avgStr)
		}
		return fmt.Sprintf("HOLD at %.2f. Average price over the next %dh was %s. No position taken.", d.Price, hours, avgStr)
	}

	move := "held near"
	if class != models.Neutral {
		if avg.GreaterThan(decimal.NewFromFloat(d.Price)) {
			move = "rose to"
		} else {
			move = "fell to"
		}
	}

	return fmt.Sprintf("%s at %.2f. Price %s an average of %s over the next %dh. P/L %s%%",
		d.Kind, d.Price, move, avgStr, hours, FormatSignedPercent(ratio))
}

// FormatSignedPercent renders a ratio as a signed percentage with two
// decimals, e.g. 0.085 -> "+8.50".
func FormatSignedPercent(ratio decimal.Decimal) string {
	pct := ratio.Mul(hundred).Round(2)
	if pct.IsPositive() {
		return "+" + pct.StringFixed(2)
	}
	return pct.StringFixed(2)
}
