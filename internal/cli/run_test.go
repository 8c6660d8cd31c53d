package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetWorld = `
b1:
  tags:
    greet: '@toast("hello " + that)'
    onBotAdded: '@toast("ready")'
b2:
  tags:
    label: quiet
`

type runResponse struct {
	Status string    `json:"status"`
	Data   RunResult `json:"data"`
	RunID  string    `json:"run_id"`
}

func decodeRun(t *testing.T, out string) runResponse {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestRun_Text(t *testing.T) {
	world := writeFile(t, t.TempDir(), "world.yaml", greetWorld)

	out, err := execute(t, "run", world, "--shout", "greet", "--arg", `"ann"`)
	require.NoError(t, err)

	assert.Contains(t, out, "World: 2 bot(s)")
	assert.Contains(t, out, "shout greet: 1 listener(s)")
	assert.Contains(t, out, `host {"name":"toast","payload":{"message":"ready"}}`)
	assert.Contains(t, out, `host {"name":"toast","payload":{"message":"hello ann"}}`)
}

func TestRun_JSON(t *testing.T) {
	world := writeFile(t, t.TempDir(), "world.yaml", greetWorld)

	out, err := execute(t, "run", world, "--format", "json", "--shout", "greet", "--arg", `"ann"`, "--shout", "nobody")
	require.NoError(t, err)

	resp := decodeRun(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.RunID)
	assert.Equal(t, 2, resp.Data.Bots)

	require.Len(t, resp.Data.Shouts, 2)
	assert.Equal(t, []string{"b1"}, resp.Data.Shouts[0].Listeners)
	assert.Equal(t, "nobody", resp.Data.Shouts[1].Name)
	assert.Empty(t, resp.Data.Shouts[1].Listeners)

	require.Len(t, resp.Data.Batches, 2)
	assert.Equal(t, int64(1), resp.Data.Batches[0].Seq)
	assert.NotEmpty(t, resp.Data.Batches[0].Digest)
	payload := resp.Data.Batches[1].Actions[0]["payload"].(map[string]any)
	assert.Equal(t, "hello ann", payload["message"])
}

func TestRun_ListenerErrors(t *testing.T) {
	world := writeFile(t, t.TempDir(), "world.yaml", `
b1: { tags: { poke: '@setTag("ghost", "x", 1)' } }
`)

	out, err := execute(t, "run", world, "--format", "json", "--shout", "poke")
	require.NoError(t, err)

	resp := decodeRun(t, out)
	require.Len(t, resp.Data.Shouts, 1)
	require.Len(t, resp.Data.Shouts[0].Errors, 1)
	assert.Contains(t, resp.Data.Shouts[0].Errors[0], "b1.poke")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	world := writeFile(t, dir, "world.yaml", greetWorld)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing world", []string{"run", filepath.Join(dir, "nope.yaml")}, "failed to load world"},
		{"extra arg", []string{"run", world, "--arg", "1"}, "1 --arg values for 0 --shout flags"},
		{"bad arg json", []string{"run", world, "--shout", "greet", "--arg", "{"}, "invalid --arg for greet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_Journal(t *testing.T) {
	dir := t.TempDir()
	world := writeFile(t, dir, "world.yaml", `
spawner: { tags: { spawn: '@create({"kind": "npc", "onCreate": "@toast(\"born\")"})' } }
`)
	db := filepath.Join(dir, "botloom.db")

	out, err := execute(t, "run", world, "--db", db, "--label", "spawn", "--format", "json", "--shout", "spawn")
	require.NoError(t, err)

	resp := decodeRun(t, out)
	require.NotEmpty(t, resp.RunID)
	assert.Equal(t, resp.RunID, resp.Data.RunID)
	require.NotEmpty(t, resp.Data.Batches)
}
