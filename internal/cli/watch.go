package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/runtime"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
}

// WatchUpdate is what one reload of the world changed.
type WatchUpdate struct {
	Version int64       `json:"version"`
	Added   []string    `json:"added"`
	Removed []string    `json:"removed"`
	Updated []string    `json:"updated"`
	Batches []BatchView `json:"batches"`
}

// Empty reports whether the reload changed nothing.
func (u WatchUpdate) Empty() bool {
	return len(u.Added) == 0 && len(u.Removed) == 0 && len(u.Updated) == 0 && len(u.Batches) == 0
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <world>",
		Short: "Reconcile a world file into a live runtime on every save",
		Long: `Load a world, then keep a runtime running and re-apply the file as a
delta whenever it changes. Bots removed from the file are destroyed.
Saving an unchanged file is a no-op and prints nothing.

Stop with Ctrl-C.

Example:
  botloom watch world.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}
	return cmd
}

func runWatch(opts *WatchOptions, worldPath string, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	rt := opts.newRuntime()
	defer rt.Teardown()

	w := newWorldWatch(rt, worldPath)
	update, err := w.Reload(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load world", err)
	}
	if err := emitUpdate(formatter, update); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create watcher", err)
	}
	defer watcher.Close()

	// Editors often save by renaming a new file over the old one, which
	// drops a watch on the file itself. Watch the directory instead.
	if err := watcher.Add(filepath.Dir(worldPath)); err != nil {
		return WrapExitError(ExitCommandError, "failed to watch world", err)
	}
	formatter.VerboseLog("Watching %s", worldPath)

	target := filepath.Clean(worldPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			update, err := w.Reload(ctx)
			if err != nil {
				// A half-written file is common while saving; keep watching.
				slog.Warn("reload failed", "world", worldPath, "error", err)
				continue
			}
			if err := emitUpdate(formatter, update); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// worldWatch re-applies a world file to a runtime.
type worldWatch struct {
	rt     *runtime.Runtime
	path   string
	loaded map[string]bool
}

func newWorldWatch(rt *runtime.Runtime, path string) *worldWatch {
	return &worldWatch{rt: rt, path: path, loaded: map[string]bool{}}
}

// Reload applies the file as full records and deletes bots that were in
// the previous load but are gone now.
func (w *worldWatch) Reload(ctx context.Context) (WatchUpdate, error) {
	world, err := LoadWorld(w.path)
	if err != nil {
		return WatchUpdate{}, err
	}

	delta := world.Delta()
	for id := range w.loaded {
		if _, ok := delta[id]; !ok {
			delta[id] = nil
		}
	}

	state, err := w.rt.ApplyDelta(ctx, delta)
	if err != nil {
		return WatchUpdate{}, err
	}

	w.loaded = make(map[string]bool, len(world))
	for id, spec := range world {
		if spec != nil {
			w.loaded[id] = true
		}
	}

	return newWatchUpdate(state, w.rt)
}

func newWatchUpdate(state *ir.StateResult, rt *runtime.Runtime) (WatchUpdate, error) {
	u := WatchUpdate{
		Version: state.Version,
		Added:   nonNilIDs(state.AddedBots),
		Removed: nonNilIDs(state.RemovedBots),
		Updated: nonNilIDs(state.UpdatedBots),
		Batches: []BatchView{},
	}
	for _, b := range rt.Outbox().Drain() {
		v, err := viewEngineBatch(b)
		if err != nil {
			return u, err
		}
		u.Batches = append(u.Batches, v)
	}
	return u, nil
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func emitUpdate(f *OutputFormatter, u WatchUpdate) error {
	if u.Empty() {
		return nil
	}
	if f.Format == "json" {
		return f.JSON(CLIResponse{Status: "ok", Data: u})
	}
	writeUpdateText(f.Writer, u)
	return nil
}

func writeUpdateText(w io.Writer, u WatchUpdate) {
	fmt.Fprintf(w, "version %d: +%v -%v ~%v\n", u.Version, u.Added, u.Removed, u.Updated)
	for _, b := range u.Batches {
		writeBatchText(w, b)
	}
}
