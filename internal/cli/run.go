package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/config"
	"github.com/roach88/botloom/internal/engine"
	"github.com/roach88/botloom/internal/harness"
	"github.com/roach88/botloom/internal/runtime"
	"github.com/roach88/botloom/internal/script"
	"github.com/roach88/botloom/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Label    string
	Shouts   []string
	Args     []string
	Settle   time.Duration
}

// ShoutReport describes one shout of a run.
type ShoutReport struct {
	Name      string   `json:"name"`
	Listeners []string `json:"listeners"`
	Results   []string `json:"results"`
	Errors    []string `json:"errors,omitempty"`
	Exhausted bool     `json:"exhausted,omitempty"`
}

// RunResult is the output of the run command.
type RunResult struct {
	RunID   string        `json:"run_id,omitempty"`
	Bots    int           `json:"bots"`
	Version int64         `json:"version"`
	Shouts  []ShoutReport `json:"shouts"`
	Batches []BatchView   `json:"batches"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <world>",
		Short: "Load a world and shout to its bots",
		Long: `Load a world file (YAML, JSON or CUE), apply it as the first delta and
run the given shouts in order, printing every emitted action batch.

Each --shout may be paired with an --arg holding a JSON value; the n-th
--arg belongs to the n-th --shout. With --db (or [journal] path in the
config) every input and batch is journaled for trace and replay.

Example:
  botloom run world.yaml --shout onClick
  botloom run world.cue --shout greet --arg '"ann"' --format json
  botloom run world.yaml --shout start --settle 2s --db ./botloom.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorld(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides [journal] path)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "label for the journaled run (default: world path)")
	cmd.Flags().StringArrayVar(&opts.Shouts, "shout", nil, "listener name to shout (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "JSON argument for the matching --shout")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 0, "wait this long for timers and sleeping listeners before exiting")

	return cmd
}

func runWorld(opts *RunOptions, worldPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if len(opts.Args) > len(opts.Shouts) {
		return NewExitError(ExitCommandError, fmt.Sprintf("%d --arg values for %d --shout flags", len(opts.Args), len(opts.Shouts)))
	}
	shoutArgs := make([]any, len(opts.Shouts))
	for i, raw := range opts.Args {
		if err := json.Unmarshal([]byte(raw), &shoutArgs[i]); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --arg for %s", opts.Shouts[i]), err)
		}
	}

	world, err := LoadWorld(worldPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load world", err)
	}
	formatter.VerboseLog("Loaded %d bot(s) from %s", len(world), worldPath)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var extra []runtime.Option
	result := RunResult{Shouts: []ShoutReport{}, Batches: []BatchView{}}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.Config.Journal.Path
	}
	if dbPath != "" {
		journal, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := journal.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()

		label := opts.Label
		if label == "" {
			label = worldPath
		}
		if result.RunID, err = journal.BeginRun(ctx, label); err != nil {
			return WrapExitError(ExitCommandError, "failed to start journal run", err)
		}
		extra = append(extra, runtime.WithRecorder(journal), replayableIDs(opts.Config))
		slog.Info("journaling run", "db", dbPath, "run_id", result.RunID)
	}

	rt := opts.newRuntime(extra...)
	defer rt.Teardown()

	state, err := rt.ApplyDelta(ctx, world.Delta())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to apply world", err)
	}
	result.Bots = rt.Store().Len()
	result.Version = state.Version
	if err := appendBatches(&result, rt.Outbox().Drain()); err != nil {
		return WrapExitError(ExitFailure, "failed to render batches", err)
	}

	for i, name := range opts.Shouts {
		res, err := rt.Shout(ctx, name, nil, shoutArgs[i])
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("shout %s failed", name), err)
		}
		result.Shouts = append(result.Shouts, shoutReport(name, res))
		if err := appendBatches(&result, rt.Outbox().Drain()); err != nil {
			return WrapExitError(ExitFailure, "failed to render batches", err)
		}
	}

	if opts.Settle > 0 {
		formatter.VerboseLog("Settling for %s", opts.Settle)
		select {
		case <-time.After(opts.Settle):
		case <-ctx.Done():
			slog.Info("interrupted while settling")
		}
		rt.Teardown()
		if err := appendBatches(&result, rt.Outbox().Drain()); err != nil {
			return WrapExitError(ExitFailure, "failed to render batches", err)
		}
	}

	if opts.Format == "json" {
		return formatter.JSON(CLIResponse{Status: "ok", Data: result, RunID: result.RunID})
	}
	return outputRunText(cmd, result)
}

// replayableIDs numbers script-created bots sequentially so a journaled
// run can be replayed. A configured id_prefix already does.
func replayableIDs(cfg *config.Config) runtime.Option {
	if cfg != nil && cfg.Runtime.IDPrefix != "" {
		return runtime.WithEngineOptions()
	}
	return runtime.WithEngineOptions(engine.WithIDGenerator(engine.NewSequenceGenerator(harness.DefaultIDPrefix)))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func shoutReport(name string, res *script.ShoutResult) ShoutReport {
	r := ShoutReport{
		Name:      name,
		Listeners: res.Listeners,
		Results:   make([]string, len(res.Results)),
		Exhausted: res.Exhausted,
	}
	if r.Listeners == nil {
		r.Listeners = []string{}
	}
	for i, v := range res.Results {
		r.Results[i] = compiler.FormatAny(v)
	}
	for _, le := range res.Errors {
		r.Errors = append(r.Errors, le.Error())
	}
	return r
}

func appendBatches(result *RunResult, batches []*engine.Batch) error {
	for _, b := range batches {
		v, err := viewEngineBatch(b)
		if err != nil {
			return err
		}
		result.Batches = append(result.Batches, v)
	}
	return nil
}

func outputRunText(cmd *cobra.Command, result RunResult) error {
	w := cmd.OutOrStdout()
	if result.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", result.RunID)
	}
	fmt.Fprintf(w, "World: %d bot(s), version %d\n", result.Bots, result.Version)
	for _, s := range result.Shouts {
		fmt.Fprintf(w, "shout %s: %d listener(s)", s.Name, len(s.Listeners))
		if s.Exhausted {
			fmt.Fprint(w, " (energy exhausted)")
		}
		fmt.Fprintln(w)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
	}
	for _, b := range result.Batches {
		writeBatchText(w, b)
	}
	return nil
}
