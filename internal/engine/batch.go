package engine

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

// batch collects the actions of the current tick.
type batch struct {
	actions []ir.Action

	// exempt actions were produced by onAnyAction handlers and skip
	// interception.
	exempt map[ir.Action]bool
	// external actions came in through Process. Bot mutations among them
	// are applied to the store after interception.
	external map[ir.Action]bool

	// Coalescing: at most one add and one update per bot.
	adds    map[string]*ir.AddBotAction
	updates map[string]*ir.UpdateBotAction
	removed map[string]bool

	rejected  []*ir.RejectAction
	rejectSet map[ir.Action]bool
}

func newBatch() *batch {
	return &batch{
		exempt:    make(map[ir.Action]bool),
		external:  make(map[ir.Action]bool),
		adds:      make(map[string]*ir.AddBotAction),
		updates:   make(map[string]*ir.UpdateBotAction),
		removed:   make(map[string]bool),
		rejectSet: make(map[ir.Action]bool),
	}
}

func (b *batch) empty() bool {
	return len(b.actions) == 0 && len(b.rejected) == 0
}

func (b *batch) push(a ir.Action, exempt bool) {
	b.actions = append(b.actions, a)
	if exempt {
		b.exempt[a] = true
	}
}

// reject drops a from the tick and records its wrapper once.
func (b *batch) reject(a ir.Action) {
	if a == nil || b.rejectSet[a] {
		return
	}
	b.rejectSet[a] = true
	b.rejected = append(b.rejected, &ir.RejectAction{Action: a})
}

// record queues an action performed by h.
func (s *Scheduler) record(h *host, a ir.Action) {
	if s.batch.rejectSet[a] {
		// Performing a rejected action reintroduces it.
		delete(s.batch.rejectSet, a)
	}
	s.batch.push(a, h != nil && h.intercepting)
}

// flush intercepts the pending actions, applies external mutations and
// emits the batch. Empty batches are dropped.
func (s *Scheduler) flush(ctx context.Context) {
	b := s.batch
	if b.empty() {
		return
	}

	final := s.intercept(ctx, b)
	s.batch = newBatch()

	for _, a := range final {
		if b.external[a] && ir.IsMutation(a) {
			s.applyMutation(a)
		}
	}

	if len(final) == 0 && len(b.rejected) == 0 {
		return
	}
	s.emit(ctx, &Batch{
		Seq:      s.seq.Next(),
		Actions:  final,
		Rejected: b.rejected,
	})
}

// intercept passes every non-exempt action through the onAnyAction
// listeners. Actions the handlers produce are placed right after the
// action being intercepted and are not intercepted again. Interception
// runs even when the root is out of energy.
func (s *Scheduler) intercept(ctx context.Context, b *batch) []ir.Action {
	queue := b.actions
	b.actions = nil

	handled := len(s.store.ListenerIDs(TagOnAnyAction)) > 0
	interceptor := &host{s: s, intercepting: true, unmetered: true}

	var out []ir.Action
	for _, a := range queue {
		if b.rejectSet[a] {
			continue
		}
		if !handled || b.exempt[a] {
			out = append(out, a)
			continue
		}

		arg := &script.AnyActionArg{Action: a}
		s.dispatch(ctx, interceptor, TagOnAnyAction, nil, arg)

		if !b.rejectSet[a] && arg.Action != nil {
			if arg.Action != a && b.external[a] {
				b.external[arg.Action] = true
			}
			out = append(out, arg.Action)
		}
		out = append(out, b.actions...)
		b.actions = nil
	}

	// A handler may reject an action that was already let through, and a
	// re-performed action may appear twice.
	seen := make(map[ir.Action]bool, len(out))
	final := out[:0]
	for _, a := range out {
		if seen[a] || b.rejectSet[a] {
			continue
		}
		seen[a] = true
		final = append(final, a)
	}
	return final
}

func (s *Scheduler) emit(ctx context.Context, out *Batch) {
	s.emitted = append(s.emitted, out)
	s.outbox.Push(out)
	for _, sink := range s.sinks {
		if err := sink.WriteBatch(ctx, out); err != nil {
			slog.Error("batch sink failed",
				"batch_seq", out.Seq,
				"error", err,
				"event", "sink_failed")
		}
	}
	slog.Debug("batch emitted",
		"batch_seq", out.Seq,
		"actions", len(out.Actions),
		"rejected", len(out.Rejected),
		"event", "batch_emitted")
}

// applyMutation applies a bot mutation received through Process, subject
// to the edit-mode gate.
func (s *Scheduler) applyMutation(a ir.Action) {
	switch m := a.(type) {
	case *ir.AddBotAction:
		if m.Bot == nil || s.editMode(m.Bot.Space) == Delayed {
			return
		}
		if err := s.store.Add(m.Bot.Clone()); err != nil {
			slog.Warn("add bot action not applied", "bot", m.Bot.ID, "error", err, "event", "mutation_skipped")
		}
	case *ir.RemoveBotAction:
		if !s.store.Has(m.ID) || s.editMode(s.store.Space(m.ID)) == Delayed {
			return
		}
		s.store.Remove(m.ID)
	case *ir.UpdateBotAction:
		if !s.store.Has(m.ID) || s.editMode(s.store.Space(m.ID)) == Delayed {
			return
		}
		for _, tag := range slices.Sorted(maps.Keys(m.Tags)) {
			if edit := m.Edits[tag]; edit != nil {
				s.store.ApplyEdit(m.ID, tag, edit)
				continue
			}
			s.store.SetTag(m.ID, tag, deref(m.Tags[tag]))
		}
		for _, space := range slices.Sorted(maps.Keys(m.Masks)) {
			for _, tag := range slices.Sorted(maps.Keys(m.Masks[space])) {
				s.store.SetMask(m.ID, space, tag, deref(m.Masks[space][tag]))
			}
		}
	}
}

func (s *Scheduler) editMode(space string) EditMode {
	return s.editModes.EditMode(space)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
