package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/ir"
)

// CompiledTag is the compiled form of one tag.
type CompiledTag struct {
	Bot   string          `json:"bot"`
	Tag   string          `json:"tag"`
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
	Raw   string          `json:"raw"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <world>",
		Short: "Print the compiled value of every tag in a world",
		Long: `Compile every tag of a world the way the runtime reads it and print the
resulting typed value. Listener (@) and module (📄) tags are shown by
kind only; use validate to compile their bodies.

Examples:
  botloom compile world.yaml
  botloom compile world.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runCompile(opts *RootOptions, worldPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	world, err := LoadWorld(worldPath)
	if err != nil {
		if err := formatter.Error(loadErrorCode(err), err.Error(), nil); err != nil {
			return err
		}
		return WrapExitError(ExitCommandError, "failed to load world", err)
	}

	tags, err := compileWorld(world.Delta())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to compile world", err)
	}

	if opts.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: tags})
	}

	w := cmd.OutOrStdout()
	for _, t := range tags {
		fmt.Fprintf(w, "%s.%s  %-9s %s\n", t.Bot, t.Tag, t.Kind, t.Value)
	}
	return nil
}

// compileWorld compiles the own tags of every full record in delta, in
// bot and tag order.
func compileWorld(delta ir.Delta) ([]CompiledTag, error) {
	ids := make([]string, 0, len(delta))
	for id, d := range delta {
		if d.IsFull() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := []CompiledTag{}
	for _, id := range ids {
		tags := delta[id].Tags
		names := make([]string, 0, len(tags))
		for name := range tags {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			raw := tags[name].Text
			t := CompiledTag{Bot: id, Tag: name, Raw: raw}
			switch {
			case compiler.IsListener(raw):
				t.Kind = "listener"
				t.Value = json.RawMessage("null")
			case compiler.IsModule(raw):
				t.Kind = "module"
				t.Value = json.RawMessage("null")
			default:
				v := compiler.Compile(raw)
				t.Kind = valueKind(v)
				data, err := ir.MarshalValue(v)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", id, name, err)
				}
				t.Value = data
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func valueKind(v ir.Value) string {
	switch v.(type) {
	case nil, ir.Null:
		return "null"
	case ir.String:
		if compiler.IsLiteralError(v) {
			return "error"
		}
		return "string"
	case ir.Number:
		return "number"
	case ir.Bool:
		return "bool"
	case ir.Array:
		return "array"
	case ir.Object:
		return "object"
	case ir.Vector2, ir.Vector3:
		return "vector"
	case ir.Rotation:
		return "rotation"
	case ir.DateTime:
		return "date"
	case ir.BotLink:
		return "botlink"
	}
	return "unknown"
}
