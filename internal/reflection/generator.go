// Package reflection turns an analyzed decision into a written reflection
// using an external text-generation service.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
)

// promptCloses is the number of hourly closes quoted in the prompt.
const promptCloses = 5

const systemPrompt = `You are an expert trading analyst reviewing past trading decisions.
Provide thoughtful, analytical reflections. Be specific about what worked and what didn't, and extract actionable lessons.
Respond with a JSON object of the form {"reflection": "<your reflection>"}.`

// Generator produces the reflection narrative for an analyzed decision.
type Generator interface {
	Generate(ctx context.Context, d *models.Decision, a *models.Analysis, w models.PriceWindow) (string, error)
}

// LLMGenerator implements Generator with a single LLM call. It does not
// retry; a failed call is reported to the caller as a GenerationError.
type LLMGenerator struct {
	client LLMClient
	logger zerolog.Logger
}

// NewLLMGenerator creates a generator over the given client.
func NewLLMGenerator(client LLMClient, logger zerolog.Logger) *LLMGenerator {
	return &LLMGenerator{
		client: client,
		logger: logger,
	}
}

// Generate builds the prompt, calls the client once and extracts the
// reflection text.
func (g *LLMGenerator) Generate(ctx context.Context, d *models.Decision, a *models.Analysis, w models.PriceWindow) (string, error) {
	if d == nil || a == nil {
		return "", apperrors.Preconditionf("generate requires a decision and its analysis")
	}

	resp, err := g.client.CompleteWithSystem(ctx, systemPrompt, BuildPrompt(d, a, w))
	if err != nil {
		return "", apperrors.NewGenerationError(d.ID, "completion failed", err)
	}

	text, err := parseReflection(resp)
	if err != nil {
		return "", apperrors.NewGenerationError(d.ID, err.Error(), nil)
	}

	g.logger.Debug().
		Int64("decision_id", d.ID).
		Int("chars", len(text)).
		Msg("Reflection generated")
	return text, nil
}

// BuildPrompt renders the user prompt for a decision and its outcome.
func BuildPrompt(d *models.Decision, a *models.Analysis, w models.PriceWindow) string {
	var sb strings.Builder

	sb.WriteString("Reflect on this past trading decision.\n\n")

	sb.WriteString("### Original Trade Decision\n")
	sb.WriteString(fmt.Sprintf("- Symbol: %s\n", d.Symbol))
	sb.WriteString(fmt.Sprintf("- Decision: %s\n", strings.ToUpper(string(d.Kind))))
	sb.WriteString(fmt.Sprintf("- Trade Price: %.2f\n", d.Price))
	sb.WriteString(fmt.Sprintf("- Confidence Score: %.0f%%\n", confidencePercent(d.Confidence)))
	sb.WriteString(fmt.Sprintf("- Timestamp: %s\n", d.Timestamp.UTC().Format(time.RFC3339)))
	reason := strings.TrimSpace(d.Reason)
	if reason == "" {
		reason = "(none recorded)"
	}
	sb.WriteString(fmt.Sprintf("- Reasoning: %s\n\n", reason))

	sb.WriteString("### What Actually Happened\n")
	sb.WriteString(fmt.Sprintf("- Result: %s\n", strings.ToUpper(string(a.Classification))))
	sb.WriteString(fmt.Sprintf("- Profit/Loss: %+.2f%%\n", a.ProfitLoss*100))
	sb.WriteString(fmt.Sprintf("- Description: %s\n", a.Summary))

	if n := w.Len(); n > 0 {
		sb.WriteString(fmt.Sprintf("\nPrice movement over %d hours:\n", n))
		for i, c := range w.Samples {
			if i == promptCloses {
				sb.WriteString(fmt.Sprintf("  ... (%d more hours)\n", n-promptCloses))
				break
			}
			sb.WriteString(fmt.Sprintf("  Hour %d: Close %.2f\n", i+1, c.Close))
		}
	}

	sb.WriteString("\n### Your Task\n")
	sb.WriteString("Consider:\n")
	sb.WriteString("1. Decision Quality: was the reasoning sound?\n")
	sb.WriteString("2. Outcome Analysis: which signals were read correctly or missed?\n")
	sb.WriteString("3. Confidence Calibration: was the confidence appropriate?\n")
	sb.WriteString("4. Key Lessons: what should change in future decisions?\n")

	return sb.String()
}

// confidencePercent accepts both 0-1 and 0-100 scales.
func confidencePercent(c float64) float64 {
	if c > 0 && c <= 1 {
		return c * 100
	}
	return c
}

type reflectionOutput struct {
	Reflection string `json:"reflection"`
}

// parseReflection accepts a {"reflection": ...} object, optionally inside a
// code fence, or plain text.
func parseReflection(resp string) (string, error) {
	text := strings.TrimSpace(resp)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" {
		return "", fmt.Errorf("empty response")
	}

	if strings.HasPrefix(text, "{") {
		var out reflectionOutput
		if err := json.Unmarshal([]byte(text), &out); err == nil {
			r := strings.TrimSpace(out.Reflection)
			if r == "" {
				return "", fmt.Errorf("response has no reflection")
			}
			return r, nil
		}
	}
	return text, nil
}
