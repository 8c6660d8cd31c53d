package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplay_Deterministic(t *testing.T) {
	db, runID := journaledRun(t)

	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Run: "+runID)
	assert.Contains(t, out, "✓ Replay is deterministic")
}

func TestReplay_JSON(t *testing.T) {
	db, runID := journaledRun(t)

	out, err := execute(t, "replay", "--db", db, "--run", runID, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Deterministic)
	assert.Equal(t, 4, resp.Data.Inputs)
	assert.Equal(t, resp.Data.Journaled, resp.Data.Replayed)
	assert.Empty(t, resp.Data.Divergences)
}

func TestReplay_Diverged(t *testing.T) {
	db, _ := journaledRun(t)
	// One dispatch per operation silences b's verse.
	cfg := writeFile(t, t.TempDir(), "botloom.toml", "[runtime]\nenergy = 1\n")

	out, err := execute(t, "replay", "--db", db, "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Replay diverged:")
}
