package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/botloom/internal/ir"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitFailure, "write failed", cause)

	assert.Equal(t, "write failed: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "just this", NewExitError(ExitFailure, "just this").Error())
}

func TestOutputFormatter_JSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Error("E005", "world file not found: <x>", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E005", resp.Error.Code)
	// HTML characters are not escaped.
	assert.Contains(t, buf.String(), "<x>")
}

func TestOutputFormatter_VerboseGoesToErrWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}

	f.VerboseLog("loaded %d bots", 2)
	assert.Empty(t, out.String())
	assert.Equal(t, "loaded 2 bots\n", errOut.String())

	f.Verbose = false
	f.VerboseLog("hidden")
	assert.Equal(t, "loaded 2 bots\n", errOut.String())
}

func TestViewBatch(t *testing.T) {
	toast := &ir.HostAction{Type: "toast", Payload: map[string]any{"message": "hi"}}
	rejected := &ir.RejectAction{Action: &ir.HostAction{Type: "toast", Payload: map[string]any{"message": "no"}}}

	v, err := viewBatch(3, "abc", []ir.Action{toast}, []ir.Action{rejected})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Seq)
	assert.Equal(t, "abc", v.Digest)
	require.Len(t, v.Actions, 1)
	assert.Equal(t, "host", v.Actions[0]["type"])
	require.Len(t, v.Rejected, 1)

	var buf bytes.Buffer
	writeBatchText(&buf, v)
	assert.Equal(t,
		"batch 3 (1 actions)\n"+
			"  host {\"name\":\"toast\",\"payload\":{\"message\":\"hi\"}}\n"+
			"  rejected host {\"name\":\"toast\",\"payload\":{\"message\":\"no\"}}\n",
		buf.String())
}

func TestDescribeAction(t *testing.T) {
	assert.Equal(t, "<nil>", describeAction(nil))
	assert.Equal(t, "host", describeAction(map[string]any{"type": "host"}))
	assert.Equal(t, `add_bot {"bot":{"id":"b1"}}`, describeAction(map[string]any{
		"type": "add_bot",
		"bot":  map[string]any{"id": "b1"},
	}))
}
