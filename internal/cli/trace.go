package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/botloom/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	List     bool
}

// StateView is the printable form of a journaled reconciliation.
type StateView struct {
	Seq     int64    `json:"seq"`
	Version int64    `json:"version"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Updated []string `json:"updated"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID   string      `json:"run_id"`
	Batches []BatchView `json:"batches"`
	States  []StateView `json:"states"`
	Stats   TraceStats  `json:"stats"`
}

// TraceStats holds summary statistics for the run.
type TraceStats struct {
	Batches  int `json:"batches"`
	Actions  int `json:"actions"`
	Rejected int `json:"rejected"`
	States   int `json:"states"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the batches of a journaled run",
		Long: `Show what a journaled run emitted.

The output includes:
- Batches: every emitted batch with its digest, actions and rejected actions
- States: every reconciliation result (added, removed and updated bots)
- Stats: summary counts for the run

Without --run the most recent run is shown. --list prints all runs.

Examples:
  botloom trace --db ./botloom.db
  botloom trace --db ./botloom.db --run 0192f1a4-...
  botloom trace --db ./botloom.db --list --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default: [journal] path)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show (default: latest)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list journaled runs")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	j, err := openJournal(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer closeJournal(j)

	if opts.List {
		return listRuns(ctx, opts, j, cmd)
	}

	runID, err := resolveRun(ctx, j, opts.RunID)
	if err != nil {
		return err
	}

	records, err := j.ReadBatches(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batches", err)
	}
	states, err := j.ReadStates(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read reconciliations", err)
	}

	result := TraceResult{
		RunID:   runID,
		Batches: make([]BatchView, 0, len(records)),
		States:  make([]StateView, 0, len(states)),
	}
	for _, rec := range records {
		v, err := viewBatch(rec.Seq, rec.Digest, rec.Actions, rec.Rejected)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render batch", err)
		}
		result.Batches = append(result.Batches, v)
		result.Stats.Actions += len(v.Actions)
		result.Stats.Rejected += len(v.Rejected)
	}
	for _, s := range states {
		result.States = append(result.States, StateView{
			Seq:     s.Seq,
			Version: s.Version,
			Added:   s.Added,
			Removed: s.Removed,
			Updated: s.Updated,
		})
	}
	result.Stats.Batches = len(result.Batches)
	result.Stats.States = len(result.States)

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		return formatter.JSON(CLIResponse{Status: "ok", Data: result, RunID: runID})
	}
	return outputTraceText(cmd, result)
}

// openJournal opens the journal named by flag, falling back to the
// configured path.
func openJournal(opts *RootOptions, flag string) (*store.Journal, error) {
	path := flag
	if path == "" && opts.Config != nil {
		path = opts.Config.Journal.Path
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: no journal: pass --db or set [journal] path", ErrCodeJournal))
	}
	j, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

func closeJournal(j *store.Journal) {
	if err := j.Close(); err != nil {
		slog.Error("error closing journal", "error", err)
	}
}

// resolveRun returns runID, or the latest run when it is empty.
func resolveRun(ctx context.Context, j *store.Journal, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	latest, err := j.LatestRun(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NewExitError(ExitCommandError, "journal has no runs")
	}
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to find latest run", err)
	}
	return latest, nil
}

func listRuns(ctx context.Context, opts *TraceOptions, j *store.Journal, cmd *cobra.Command) error {
	runs, err := j.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
		return formatter.JSON(CLIResponse{Status: "ok", Data: runs})
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs journaled.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-24s %d batch(es)\n", r.ID, r.Label, r.Batches)
	}
	return nil
}

func outputTraceText(cmd *cobra.Command, result TraceResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Run: %s\n", result.RunID)
	fmt.Fprintln(w)

	if len(result.Batches) == 0 {
		fmt.Fprintln(w, "No batches recorded.")
	}
	for _, b := range result.Batches {
		writeBatchText(w, b)
	}

	if len(result.States) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Reconciliations:")
		for _, s := range result.States {
			fmt.Fprintf(w, "  #%d version %d: +%v -%v ~%v\n", s.Seq, s.Version, s.Added, s.Removed, s.Updated)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d batch(es), %d action(s), %d rejected, %d reconciliation(s)\n",
		result.Stats.Batches, result.Stats.Actions, result.Stats.Rejected, result.Stats.States)
	return nil
}
