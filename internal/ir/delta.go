package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BotRecord is the full state of one bot.
type BotRecord struct {
	ID    string                       `json:"id"`
	Space string                       `json:"space,omitempty"`
	Tags  map[string]string            `json:"tags"`
	Masks map[string]map[string]string `json:"masks,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *BotRecord) Clone() *BotRecord {
	if r == nil {
		return nil
	}
	out := &BotRecord{
		ID:    r.ID,
		Space: r.Space,
		Tags:  make(map[string]string, len(r.Tags)),
	}
	for k, v := range r.Tags {
		out.Tags[k] = v
	}
	if len(r.Masks) > 0 {
		out.Masks = make(map[string]map[string]string, len(r.Masks))
		for space, tags := range r.Masks {
			m := make(map[string]string, len(tags))
			for k, v := range tags {
				m[k] = v
			}
			out.Masks[space] = m
		}
	}
	return out
}

// Delta is an inbound state change keyed by bot id.
//
// A nil entry deletes the bot. An entry with ID set is a full record
// (add or replace). An entry without ID is a partial merge.
type Delta map[string]*BotDelta

// BotDelta is one entry of a Delta.
type BotDelta struct {
	ID    string                         `json:"id,omitempty"`
	Space string                         `json:"space,omitempty"`
	Tags  map[string]TagInput            `json:"tags,omitempty"`
	Masks map[string]map[string]TagInput `json:"masks,omitempty"`
}

// IsFull reports whether the entry is a full record rather than a partial merge.
func (d *BotDelta) IsFull() bool {
	return d != nil && d.ID != ""
}

// FullDelta builds a full-record delta entry from a BotRecord.
func FullDelta(r *BotRecord) *BotDelta {
	d := &BotDelta{
		ID:    r.ID,
		Space: r.Space,
		Tags:  make(map[string]TagInput, len(r.Tags)),
	}
	for k, v := range r.Tags {
		d.Tags[k] = Text(v)
	}
	if len(r.Masks) > 0 {
		d.Masks = make(map[string]map[string]TagInput, len(r.Masks))
		for space, tags := range r.Masks {
			m := make(map[string]TagInput, len(tags))
			for k, v := range tags {
				m[k] = Text(v)
			}
			d.Masks[space] = m
		}
	}
	return d
}

// TagInput is the value of a tag inside a delta: literal text, a deletion,
// or an incremental edit over the prior raw text.
type TagInput struct {
	Text   string
	Delete bool
	Edit   *TagEdit
}

// Text returns a literal tag input.
func Text(s string) TagInput { return TagInput{Text: s} }

// Deleted returns a tag input that removes the tag.
func Deleted() TagInput { return TagInput{Delete: true} }

// EditOf returns a tag input that applies an incremental edit.
func EditOf(id string, ops ...EditOp) TagInput {
	return TagInput{Edit: &TagEdit{ID: id, Ops: ops}}
}

// MarshalJSON encodes literal text as a string, deletion as null and
// edits as {"edit": {...}}.
func (t TagInput) MarshalJSON() ([]byte, error) {
	switch {
	case t.Edit != nil:
		return json.Marshal(map[string]*TagEdit{"edit": t.Edit})
	case t.Delete:
		return []byte("null"), nil
	default:
		return json.Marshal(t.Text)
	}
}

// UnmarshalJSON decodes the forms produced by MarshalJSON. Non-string
// scalars (numbers, booleans) are kept as their JSON text.
func (t *TagInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty tag input")
	}
	switch data[0] {
	case 'n':
		*t = Deleted()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	case '{':
		var wrapper struct {
			Edit *TagEdit `json:"edit"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return err
		}
		if wrapper.Edit == nil {
			// A plain object literal is stored as its JSON text.
			*t = Text(string(data))
			return nil
		}
		*t = TagInput{Edit: wrapper.Edit}
		return nil
	default:
		*t = Text(string(data))
		return nil
	}
}

// EditOpKind identifies one span operation of a TagEdit.
type EditOpKind string

const (
	EditPreserve EditOpKind = "preserve"
	EditInsert   EditOpKind = "insert"
	EditDelete   EditOpKind = "delete"
)

// EditOp is one span operation. Count applies to preserve and delete;
// Text applies to insert. Counts are in runes.
type EditOp struct {
	Kind  EditOpKind `json:"kind"`
	Count int        `json:"count,omitempty"`
	Text  string     `json:"text,omitempty"`
}

// Preserve keeps n runes of the prior text.
func Preserve(n int) EditOp { return EditOp{Kind: EditPreserve, Count: n} }

// Insert inserts text at the cursor.
func Insert(s string) EditOp { return EditOp{Kind: EditInsert, Text: s} }

// Remove deletes n runes at the cursor.
func Remove(n int) EditOp { return EditOp{Kind: EditDelete, Count: n} }

// TagEdit is an incremental edit. ID identifies the edit so that a
// redelivered echo of an already applied edit can be skipped.
type TagEdit struct {
	ID  string   `json:"id"`
	Ops []EditOp `json:"ops"`
}

// Apply runs the edit against prior text. Spans past the end of the prior
// text are clamped; the untouched remainder is kept.
func (e *TagEdit) Apply(prior string) string {
	src := []rune(prior)
	out := make([]rune, 0, len(src))
	cursor := 0
	for _, op := range e.Ops {
		switch op.Kind {
		case EditPreserve:
			end := min(cursor+op.Count, len(src))
			out = append(out, src[cursor:end]...)
			cursor = end
		case EditInsert:
			out = append(out, []rune(op.Text)...)
		case EditDelete:
			cursor = min(cursor+op.Count, len(src))
		}
	}
	out = append(out, src[cursor:]...)
	return string(out)
}

// BotPatch is a partial update of a bot. A nil pointer removes the tag.
// Space is set when a full record moved the bot to another space.
type BotPatch struct {
	Space *string                       `json:"space,omitempty"`
	Tags  map[string]*string            `json:"tags,omitempty"`
	Masks map[string]map[string]*string `json:"masks,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *BotPatch) Empty() bool {
	return p == nil || (p.Space == nil && len(p.Tags) == 0 && len(p.Masks) == 0)
}

// SetTag records a tag change in the patch.
func (p *BotPatch) SetTag(tag string, value *string) {
	if p.Tags == nil {
		p.Tags = make(map[string]*string)
	}
	p.Tags[tag] = value
}

// SetMask records a mask change in the patch.
func (p *BotPatch) SetMask(space, tag string, value *string) {
	if p.Masks == nil {
		p.Masks = make(map[string]map[string]*string)
	}
	if p.Masks[space] == nil {
		p.Masks[space] = make(map[string]*string)
	}
	p.Masks[space][tag] = value
}

// StateEntry is one entry of a reconciliation result: either the full
// record of an added bot or the patch of an updated bot. A nil
// *StateEntry in StateResult.State means the bot was removed.
type StateEntry struct {
	Bot   *BotRecord `json:"bot,omitempty"`
	Patch *BotPatch  `json:"patch,omitempty"`
}

// StateResult is the outbound result of reconciling one delta.
type StateResult struct {
	State       map[string]*StateEntry `json:"state"`
	AddedBots   []string               `json:"added_bots"`
	RemovedBots []string               `json:"removed_bots"`
	UpdatedBots []string               `json:"updated_bots"`
	Version     int64                  `json:"version"`
}

// NewStateResult creates an empty result.
func NewStateResult() *StateResult {
	return &StateResult{
		State:       make(map[string]*StateEntry),
		AddedBots:   []string{},
		RemovedBots: []string{},
		UpdatedBots: []string{},
	}
}

// Empty reports whether the reconciliation changed nothing.
func (r *StateResult) Empty() bool {
	return len(r.AddedBots) == 0 && len(r.RemovedBots) == 0 && len(r.UpdatedBots) == 0
}

// StringPtr returns a pointer to s. Used to build patches.
func StringPtr(s string) *string { return &s }
