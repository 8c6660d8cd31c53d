package engine

import (
	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/ir"
)

// Script-level bot mutations. Each passes the edit-mode gate: in
// Immediate mode the store changes at the call site, in Delayed mode only
// the action is emitted.

// pendingRaw returns a tag's own text including writes queued in the
// current batch.
func (s *Scheduler) pendingRaw(id, tag string) string {
	if u := s.batch.updates[id]; u != nil {
		if v, ok := u.Tags[tag]; ok {
			return deref(v)
		}
	}
	return s.store.OwnRaw(id, tag)
}

// stagedAdd returns the add action of a bot created in the current batch
// that the store does not hold yet.
func (s *Scheduler) stagedAdd(id string) *ir.AddBotAction {
	if s.store.Has(id) {
		return nil
	}
	return s.batch.adds[id]
}

func (s *Scheduler) setTag(h *host, id, tag, text string) error {
	if add := s.stagedAdd(id); add != nil {
		setRecordTag(add.Bot, tag, text)
		return nil
	}
	if !s.store.Has(id) {
		return NewBotNotFoundError(id)
	}
	if s.pendingRaw(id, tag) == text {
		return nil
	}
	if s.editMode(s.store.Space(id)) == Immediate {
		s.store.SetTag(id, tag, text)
	}
	s.recordTagChange(h, id, tag, text, nil)
	return nil
}

func (s *Scheduler) editTag(h *host, id, tag string, edit *ir.TagEdit) error {
	if add := s.stagedAdd(id); add != nil {
		setRecordTag(add.Bot, tag, edit.Apply(add.Bot.Tags[tag]))
		return nil
	}
	if !s.store.Has(id) {
		return NewBotNotFoundError(id)
	}
	text := edit.Apply(s.pendingRaw(id, tag))
	if s.editMode(s.store.Space(id)) == Immediate {
		s.store.ApplyEdit(id, tag, edit)
	}
	s.recordTagChange(h, id, tag, text, edit)
	return nil
}

func (s *Scheduler) setMask(h *host, id, space, tag, text string) error {
	if add := s.stagedAdd(id); add != nil {
		setRecordMask(add.Bot, space, tag, text)
		return nil
	}
	if !s.store.Has(id) {
		return NewBotNotFoundError(id)
	}
	if s.editMode(s.store.Space(id)) == Immediate {
		if !s.store.SetMask(id, space, tag, text) {
			return nil
		}
	}
	if add := s.batch.adds[id]; add != nil {
		setRecordMask(add.Bot, space, tag, text)
		return nil
	}
	u := s.updateFor(h, id)
	u.SetMask(space, tag, textPtr(text))
	return nil
}

// recordTagChange coalesces a tag write into the bot's add action when
// the bot was created in this batch, else into its update action.
func (s *Scheduler) recordTagChange(h *host, id, tag, text string, edit *ir.TagEdit) {
	if add := s.batch.adds[id]; add != nil {
		setRecordTag(add.Bot, tag, text)
		return
	}
	u := s.updateFor(h, id)
	u.SetTag(tag, textPtr(text))
	if edit != nil {
		if u.Edits == nil {
			u.Edits = make(map[string]*ir.TagEdit)
		}
		u.Edits[tag] = edit
	} else {
		delete(u.Edits, tag)
	}
}

// updateFor returns the bot's update action of this batch, queueing a new
// one at the current position on first use.
func (s *Scheduler) updateFor(h *host, id string) *ir.UpdateBotAction {
	if u := s.batch.updates[id]; u != nil {
		return u
	}
	u := &ir.UpdateBotAction{ID: id}
	s.batch.updates[id] = u
	s.record(h, u)
	return u
}

func (s *Scheduler) createBot(h *host, space string, tags map[string]any) (string, error) {
	id := s.ids.Generate()
	rec := &ir.BotRecord{ID: id, Space: space, Tags: make(map[string]string, len(tags))}
	for k, v := range tags {
		if text := compiler.FormatAny(v); text != "" {
			rec.Tags[k] = text
		}
	}

	add := &ir.AddBotAction{Bot: rec.Clone()}
	s.batch.adds[id] = add
	s.record(h, add)

	if s.editMode(space) == Delayed {
		return "", nil
	}
	if err := s.store.Add(rec); err != nil {
		return "", err
	}
	s.dispatch(h.ctx, h, TagOnCreate, []string{id}, nil)
	return id, nil
}

func (s *Scheduler) destroyBot(h *host, id string) error {
	if s.batch.removed[id] || !s.store.Has(id) {
		return nil
	}
	s.batch.removed[id] = true
	space := s.store.Space(id)

	s.dispatch(h.ctx, h, TagOnDestroy, []string{id}, nil)
	s.record(h, &ir.RemoveBotAction{ID: id})
	if s.editMode(space) == Immediate {
		s.store.Remove(id)
	}
	return nil
}

func setRecordTag(rec *ir.BotRecord, tag, text string) {
	if rec.Tags == nil {
		rec.Tags = make(map[string]string)
	}
	if text == "" {
		delete(rec.Tags, tag)
		return
	}
	rec.Tags[tag] = text
}

func setRecordMask(rec *ir.BotRecord, space, tag, text string) {
	if text == "" {
		delete(rec.Masks[space], tag)
		return
	}
	if rec.Masks == nil {
		rec.Masks = make(map[string]map[string]string)
	}
	if rec.Masks[space] == nil {
		rec.Masks[space] = make(map[string]string)
	}
	rec.Masks[space][tag] = text
}

func textPtr(text string) *string {
	if text == "" {
		return nil
	}
	return ir.StringPtr(text)
}
