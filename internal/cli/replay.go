package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// DivergenceView is one batch position where replay disagreed.
type DivergenceView struct {
	Index int    `json:"index"`
	Want  string `json:"want,omitempty"`
	Got   string `json:"got,omitempty"`
}

// ReplayResult holds the replay outcome.
type ReplayResult struct {
	RunID         string           `json:"run_id"`
	Inputs        int              `json:"inputs"`
	Journaled     int              `json:"journaled_batches"`
	Replayed      int              `json:"replayed_batches"`
	Deterministic bool             `json:"deterministic"`
	Divergences   []DivergenceView `json:"divergences"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a journaled run and verify determinism",
		Long: `Feed a journaled run's inputs to a fresh runtime and compare the
digest of every emitted batch with the journal, position by position.

The fresh runtime uses the current configuration. Runs journaled by
"botloom run" number script-created bots sequentially, so they replay
unless the configuration changed in between.

Exit codes:
  0 - Every batch was reproduced
  1 - Batches diverged
  2 - Command error (journal not found, etc.)

Examples:
  botloom replay --db ./botloom.db
  botloom replay --db ./botloom.db --run 0192f1a4-...
  botloom replay --db ./botloom.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default: [journal] path)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to replay (default: latest)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	j, err := openJournal(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closeJournal(j)

	runID, err := resolveRun(ctx, j, opts.RunID)
	if err != nil {
		return err
	}

	rt := opts.newRuntime(replayableIDs(opts.Config))
	defer rt.Teardown()

	report, err := j.Replay(ctx, runID, rt.ReplayTarget())
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	result := ReplayResult{
		RunID:         report.RunID,
		Inputs:        report.Inputs,
		Journaled:     report.Want,
		Replayed:      report.Got,
		Deterministic: report.OK(),
		Divergences:   make([]DivergenceView, 0, len(report.Divergences)),
	}
	for _, d := range report.Divergences {
		result.Divergences = append(result.Divergences, DivergenceView{Index: d.Index, Want: d.Want, Got: d.Got})
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		resp := CLIResponse{Status: "ok", Data: result, RunID: runID}
		if !result.Deterministic {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    "E_NONDETERMINISTIC",
				Message: fmt.Sprintf("%d batch(es) diverged", len(result.Divergences)),
			}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd, result)
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, fmt.Sprintf("replay of %s diverged at %d batch(es)", runID, len(result.Divergences)))
	}
	return nil
}

func outputReplayText(cmd *cobra.Command, result ReplayResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Run: %s\n", result.RunID)
	fmt.Fprintf(w, "Inputs: %d, journaled batches: %d, replayed batches: %d\n",
		result.Inputs, result.Journaled, result.Replayed)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay is deterministic")
		return
	}

	fmt.Fprintln(w, "✗ Replay diverged:")
	for _, d := range result.Divergences {
		want, got := d.Want, d.Got
		if want == "" {
			want = "(missing)"
		}
		if got == "" {
			got = "(missing)"
		}
		fmt.Fprintf(w, "  batch %d: journaled %s, replayed %s\n", d.Index, want, got)
	}
}
