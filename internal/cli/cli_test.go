package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
	"trade-reflector/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(zerolog.Nop())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := execute(t, "version", "--json", "--config", "/nonexistent/dir/that/is/never/created")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestRecordPendingAndStats(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-30 * time.Hour).UTC().Format(time.RFC3339)
	recent := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)

	_, err := execute(t, "--config", dir, "schema")
	require.NoError(t, err)

	_, err = execute(t, "--config", dir, "record", "--symbol", "btc", "--kind", "buy", "--price", "1000", "--at", old, "--reason", "breakout")
	require.NoError(t, err)
	_, err = execute(t, "--config", dir, "record", "--symbol", "eth", "--kind", "hold", "--at", recent)
	require.NoError(t, err)

	out, err := execute(t, "--config", dir, "--json", "pending")
	require.NoError(t, err)
	var pending []models.Decision
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "BTC", pending[0].Symbol)
	assert.Equal(t, models.KindBuy, pending[0].Kind)

	out, err = execute(t, "--config", dir, "--json", "pending", "--min-age", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	assert.Len(t, pending, 2)

	out, err = execute(t, "--config", dir, "--json", "stats")
	require.NoError(t, err)
	var stats models.OutcomeStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Pending)
	assert.Zero(t, stats.Analyzed)

	out, err = execute(t, "--config", dir, "diary")
	require.NoError(t, err)
	assert.Contains(t, out, "No reflections yet")
}

func TestRecordRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "--config", dir, "record", "--symbol", "btc", "--kind", "short", "--price", "1")
	assert.Error(t, err)

	_, err = execute(t, "--config", dir, "record", "--symbol", "btc", "--kind", "buy")
	assert.Error(t, err)

	_, err = execute(t, "--config", dir, "record", "--symbol", "btc", "--kind", "sell", "--price", "5", "--at", "yesterday")
	assert.Error(t, err)
}

func TestRunRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()

	_, err := execute(t, "--config", dir, "run", "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenAI API key")
}

func TestStoreClosedAfterFailedCommand(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	dir := t.TempDir()

	root, app := newRootCmd(zerolog.Nop())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--config", dir, "run", "--dry-run"})

	require.Error(t, root.Execute())
	assert.Nil(t, app.store)
}

func TestStoreClosedAfterCommand(t *testing.T) {
	dir := t.TempDir()

	root, app := newRootCmd(zerolog.Nop())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", dir, "--json", "pending"})

	require.NoError(t, root.Execute())
	assert.Nil(t, app.store)
}

func TestRunReportListsFailureKinds(t *testing.T) {
	counts := map[apperrors.ErrorKind]int{
		apperrors.KindGeneration:      1,
		apperrors.KindDataUnavailable: 2,
	}
	assert.Equal(t, "data_unavailable=2, generation_failure=1", formatFailureKinds(counts))
	assert.Empty(t, formatFailureKinds(nil))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.Flags().Bool("json", false, "")
	cmd.SetOut(&out)

	report := &pipeline.RunReport{
		Stats:          pipeline.RunStats{Considered: 3, Failed: 3},
		FailuresByKind: counts,
	}
	printRunReport(NewOutput(cmd), report)
	assert.Contains(t, out.String(), "Failures by kind: data_unavailable=2, generation_failure=1")
}
