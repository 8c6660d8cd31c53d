package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_JSON(t *testing.T) {
	world := writeFile(t, t.TempDir(), "world.yaml", `
b1:
  tags:
    hp: 12
    alive: true
    name: ann
    pos: '➡️1,2'
    stats: '🧬{str: 3 * 2}'
    home: '🔗b2'
    greet: '@toast("hi")'
    lib: '📄{}'
    bad: '🧬1 +'
b2:
  partial: true
  tags: { skipped: 1 }
`)

	out, err := execute(t, "compile", world, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []CompiledTag `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	kinds := map[string]string{}
	values := map[string]string{}
	for _, tag := range resp.Data {
		assert.Equal(t, "b1", tag.Bot, "partial entries are not compiled")
		kinds[tag.Tag] = tag.Kind
		values[tag.Tag] = string(tag.Value)
	}

	assert.Equal(t, map[string]string{
		"alive": "bool",
		"bad":   "error",
		"greet": "listener",
		"home":  "botlink",
		"hp":    "number",
		"lib":   "module",
		"name":  "string",
		"pos":   "vector",
		"stats": "object",
	}, kinds)
	assert.Equal(t, "12", values["hp"])
	assert.Equal(t, `"ann"`, values["name"])
	assert.JSONEq(t, `{"str": 6}`, values["stats"])
}

func TestCompile_Text(t *testing.T) {
	world := writeFile(t, t.TempDir(), "world.yaml", "b1: { tags: { hp: 12 } }\n")

	out, err := execute(t, "compile", world)
	require.NoError(t, err)
	assert.Contains(t, out, "b1.hp")
	assert.Contains(t, out, "number")
}
