package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/modules"
	"github.com/roach88/botloom/internal/runtime"
)

// ValidationIssue is one problem found in a world.
type ValidationIssue struct {
	Code    string   `json:"code"`
	Bot     string   `json:"bot,omitempty"`
	Tag     string   `json:"tag,omitempty"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"` // import cycle, when Code is E104
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Bots   int               `json:"bots"`
	Issues []ValidationIssue `json:"issues"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <world>",
		Short: "Check a world's tags without running listeners",
		Long: `Load a world and check every tag without dispatching any listener.

Checks performed:
  E101  literal (🧬) tags that fail to evaluate
  E102  listener (@) tags that fail to compile
  E103  module (📄) tags that fail to compile or load
  E104  modules that import each other`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, worldPath string, cmd *cobra.Command) error {
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

	rt := opts.newRuntime()
	defer rt.Teardown()

	result := validateWorld(cmd, rt, world.Delta())
	formatter.VerboseLog("Checked %d bot(s), %d issue(s)", result.Bots, len(result.Issues))

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: result.Issues[0].Code, Message: fmt.Sprintf("%d issue(s) found", len(result.Issues))}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
	} else {
		outputValidateText(cmd, worldPath, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d issue(s) found", len(result.Issues)))
	}
	return nil
}

// validateWorld loads delta into the store directly, so that no listener
// runs, then compiles every tag and imports every module.
func validateWorld(cmd *cobra.Command, rt *runtime.Runtime, delta ir.Delta) ValidationResult {
	ctx := commandContext(cmd)
	st := rt.Store()
	st.Apply(delta)

	result := ValidationResult{Bots: st.Len(), Issues: []ValidationIssue{}}
	var moduleTags [][2]string

	for _, id := range st.IDs() {
		rec := st.Get(id)
		tags := make([]string, 0, len(rec.Tags))
		for tag := range rec.Tags {
			tags = append(tags, tag)
		}
		sort.Strings(tags)

		for _, tag := range tags {
			text := rec.Tags[tag]
			switch {
			case compiler.IsListener(text):
				if l := st.Listener(id, tag); l != nil && l.Err() != nil {
					result.Issues = append(result.Issues, ValidationIssue{Code: ErrCodeListener, Bot: id, Tag: tag, Message: l.Err().Error()})
				}
			case compiler.IsModule(text):
				m := st.Module(id, tag)
				if m == nil {
					continue
				}
				if err := m.Err(); err != nil {
					result.Issues = append(result.Issues, ValidationIssue{Code: ErrCodeModule, Bot: id, Tag: tag, Message: err.Error()})
					continue
				}
				moduleTags = append(moduleTags, [2]string{id, tag})
			case strings.HasPrefix(text, compiler.PrefixLiteral):
				if v := compiler.Compile(text); compiler.IsLiteralError(v) {
					msg := strings.TrimPrefix(string(v.(ir.String)), compiler.LiteralErrorPrefix)
					result.Issues = append(result.Issues, ValidationIssue{Code: ErrCodeLiteral, Bot: id, Tag: tag, Message: msg})
				}
			}
		}
	}

	for _, mt := range moduleTags {
		_, err := rt.Import(ctx, mt[0]+"."+mt[1])
		// Cycles are reported once, from the import graph, below.
		if err == nil || modules.IsCycleError(err) || strings.Contains(err.Error(), "import cycle") {
			continue
		}
		result.Issues = append(result.Issues, ValidationIssue{Code: ErrCodeModule, Bot: mt[0], Tag: mt[1], Message: err.Error()})
	}

	for _, w := range compiler.AnalyzeImportCycles(rt.Scheduler().Resolver().Graph()) {
		result.Issues = append(result.Issues, ValidationIssue{Code: ErrCodeImportCycle, Message: w.Message, Path: w.Path})
	}

	result.Valid = len(result.Issues) == 0
	return result
}

func outputValidateText(cmd *cobra.Command, worldPath string, result ValidationResult) {
	w := cmd.OutOrStdout()

	if result.Valid {
		fmt.Fprintf(w, "✓ %s: %d bot(s), no issues\n", worldPath, result.Bots)
		return
	}

	fmt.Fprintf(w, "✗ %s: %d issue(s)\n", worldPath, len(result.Issues))
	for _, is := range result.Issues {
		if is.Bot != "" {
			fmt.Fprintf(w, "  %s %s.%s: %s\n", is.Code, is.Bot, is.Tag, is.Message)
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", is.Code, is.Message)
	}
}
