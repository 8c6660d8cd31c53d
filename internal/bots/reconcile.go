package bots

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/botloom/internal/ir"
)

// Apply reconciles an inbound delta into the store.
//
// Entries are processed in sorted id order. A nil entry deletes the bot; an
// entry with ID set is a full record (add, or replace when the bot exists);
// any other entry is a partial merge and is ignored for unknown bots.
//
// A full record replaces the bot's space and own tags. Mask spaces named in the
// record replace the bot's masks in those spaces; spaces it omits are left
// alone, since masks are usually held locally and not carried by remote
// records.
//
// Redelivering a record identical to the current state changes nothing and
// produces an empty result.
func (s *Store) Apply(delta ir.Delta) *ir.StateResult {
	res := ir.NewStateResult()

	for _, id := range slices.Sorted(maps.Keys(delta)) {
		d := delta[id]
		switch {
		case d == nil:
			if s.Remove(id) {
				res.RemovedBots = append(res.RemovedBots, id)
				res.State[id] = nil
			}

		case d.IsFull() && !s.Has(id):
			rec := s.recordFromDelta(id, d)
			if err := s.Add(rec); err != nil {
				slog.Warn("reconcile add failed", "bot", id, "error", err)
				continue
			}
			res.AddedBots = append(res.AddedBots, id)
			res.State[id] = &ir.StateEntry{Bot: rec.Clone()}

		case d.IsFull():
			patch := s.replace(id, d)
			if !patch.Empty() {
				res.UpdatedBots = append(res.UpdatedBots, id)
				res.State[id] = &ir.StateEntry{Patch: patch}
			}

		default:
			if !s.Has(id) {
				slog.Debug("partial delta for unknown bot ignored", "bot", id)
				continue
			}
			patch := s.merge(id, d)
			if !patch.Empty() {
				res.UpdatedBots = append(res.UpdatedBots, id)
				res.State[id] = &ir.StateEntry{Patch: patch}
			}
		}
	}

	if res.Empty() {
		res.Version = s.clock.Current()
	} else {
		res.Version = s.clock.Next()
	}
	return res
}

// recordFromDelta builds a new bot from a full record. Deleted tags and
// empty text are dropped; edits apply to empty text.
func (s *Store) recordFromDelta(id string, d *ir.BotDelta) *ir.BotRecord {
	rec := &ir.BotRecord{ID: id, Space: d.Space, Tags: map[string]string{}}
	for tag, in := range d.Tags {
		if text := s.resolveInput(in, ""); text != "" {
			rec.Tags[tag] = text
		}
	}
	for space, tags := range d.Masks {
		for tag, in := range tags {
			text := s.resolveInput(in, "")
			if text == "" {
				continue
			}
			if rec.Masks == nil {
				rec.Masks = map[string]map[string]string{}
			}
			if rec.Masks[space] == nil {
				rec.Masks[space] = map[string]string{}
			}
			rec.Masks[space][tag] = text
		}
	}
	return rec
}

// resolveInput turns a tag input into the text it produces over prior.
// An edit already applied yields prior unchanged.
func (s *Store) resolveInput(in ir.TagInput, prior string) string {
	switch {
	case in.Delete:
		return ""
	case in.Edit != nil:
		if in.Edit.ID != "" {
			if _, seen := s.edits[in.Edit.ID]; seen {
				return prior
			}
			s.edits[in.Edit.ID] = struct{}{}
		}
		return in.Edit.Apply(prior)
	default:
		return in.Text
	}
}

func (s *Store) replace(id string, d *ir.BotDelta) *ir.BotPatch {
	e := s.bots[id]
	patch := &ir.BotPatch{}
	if s.SetSpace(id, d.Space) {
		patch.Space = ir.StringPtr(d.Space)
	}

	next := map[string]string{}
	for tag, in := range d.Tags {
		if text := s.resolveInput(in, e.record.Tags[tag]); text != "" {
			next[tag] = text
		}
	}
	for _, tag := range slices.Sorted(maps.Keys(e.record.Tags)) {
		if _, keep := next[tag]; !keep {
			s.setOwn(id, tag, "", patch)
		}
	}
	for _, tag := range slices.Sorted(maps.Keys(next)) {
		s.setOwn(id, tag, next[tag], patch)
	}

	for _, space := range slices.Sorted(maps.Keys(d.Masks)) {
		nextMask := map[string]string{}
		for tag, in := range d.Masks[space] {
			if text := s.resolveInput(in, e.record.Masks[space][tag]); text != "" {
				nextMask[tag] = text
			}
		}
		for _, tag := range slices.Sorted(maps.Keys(e.record.Masks[space])) {
			if _, keep := nextMask[tag]; !keep {
				s.setMask(id, space, tag, "", patch)
			}
		}
		for _, tag := range slices.Sorted(maps.Keys(nextMask)) {
			s.setMask(id, space, tag, nextMask[tag], patch)
		}
	}
	return patch
}

func (s *Store) merge(id string, d *ir.BotDelta) *ir.BotPatch {
	e := s.bots[id]
	patch := &ir.BotPatch{}
	for _, tag := range slices.Sorted(maps.Keys(d.Tags)) {
		s.setOwn(id, tag, s.resolveInput(d.Tags[tag], e.record.Tags[tag]), patch)
	}
	for _, space := range slices.Sorted(maps.Keys(d.Masks)) {
		for _, tag := range slices.Sorted(maps.Keys(d.Masks[space])) {
			prior := e.record.Masks[space][tag]
			s.setMask(id, space, tag, s.resolveInput(d.Masks[space][tag], prior), patch)
		}
	}
	return patch
}

func (s *Store) setOwn(id, tag, text string, patch *ir.BotPatch) {
	if !s.SetTag(id, tag, text) {
		return
	}
	if text == "" {
		patch.SetTag(tag, nil)
	} else {
		patch.SetTag(tag, ir.StringPtr(text))
	}
}

func (s *Store) setMask(id, space, tag, text string, patch *ir.BotPatch) {
	if !s.SetMask(id, space, tag, text) {
		return
	}
	if text == "" {
		patch.SetMask(space, tag, nil)
	} else {
		patch.SetMask(space, tag, ir.StringPtr(text))
	}
}
