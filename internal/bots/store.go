package bots

import (
	"fmt"
	"slices"

	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

// SystemTag is the tag whose text places a bot in the system-path index.
const SystemTag = "system"

// MaskSpaces lists mask spaces from highest to lowest priority. A mask in
// an earlier space shadows masks in later spaces and the bot's own tag.
var MaskSpaces = []string{"tempLocal", "local", "tempShared", "remoteTempShared", "shared", "admin"}

// Sequencer issues monotonic versions.
type Sequencer interface {
	Next() int64
	Current() int64
}

// Observer is notified of changes to the effective text of a tag and of
// bot removal.
type Observer interface {
	TagChanged(botID, tag, oldText, newText string)
	BotRemoved(botID string)
}

// DynamicListener is a listener attached to a bot at runtime.
type DynamicListener struct {
	ID   int64
	Body script.Body
}

type cachedValue struct {
	raw   string
	value ir.Value
}

type cachedListener struct {
	raw      string
	listener *compiler.Listener
}

type cachedModule struct {
	raw    string
	module *compiler.Module
}

type entry struct {
	record    *ir.BotRecord
	values    map[string]cachedValue
	listeners map[string]cachedListener
	modules   map[string]cachedModule
}

func newEntry(rec *ir.BotRecord) *entry {
	if rec.Tags == nil {
		rec.Tags = map[string]string{}
	}
	return &entry{
		record:    rec,
		values:    map[string]cachedValue{},
		listeners: map[string]cachedListener{},
		modules:   map[string]cachedModule{},
	}
}

// Store holds all bots.
type Store struct {
	interp    script.Interpreter
	clock     Sequencer
	bots      map[string]*entry
	order     []string
	systems   map[string][]string
	dynamic   map[string]map[string][]DynamicListener
	nextDyn   int64
	edits     map[string]struct{}
	observers []Observer
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the sequencer that versions reconciliation results.
func WithClock(c Sequencer) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithObserver subscribes o to store changes.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observers = append(s.observers, o)
	}
}

// New creates an empty store compiling listeners with interp.
func New(interp script.Interpreter, opts ...Option) *Store {
	s := &Store{
		interp:  interp,
		clock:   &counter{},
		bots:    make(map[string]*entry),
		systems: make(map[string][]string),
		dynamic: make(map[string]map[string][]DynamicListener),
		edits:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe adds an observer.
func (s *Store) Subscribe(o Observer) {
	s.observers = append(s.observers, o)
}

// Version returns the version of the last reconciliation that changed state.
func (s *Store) Version() int64 {
	return s.clock.Current()
}

// Has reports whether a bot exists.
func (s *Store) Has(id string) bool {
	_, ok := s.bots[id]
	return ok
}

// Len returns the number of bots.
func (s *Store) Len() int {
	return len(s.order)
}

// IDs returns all bot ids in enumeration (insertion) order.
func (s *Store) IDs() []string {
	return slices.Clone(s.order)
}

// Get returns a copy of a bot's record, or nil.
func (s *Store) Get(id string) *ir.BotRecord {
	e, ok := s.bots[id]
	if !ok {
		return nil
	}
	return e.record.Clone()
}

// Space returns a bot's space.
func (s *Store) Space(id string) string {
	if e, ok := s.bots[id]; ok {
		return e.record.Space
	}
	return ""
}

// SetSpace moves a bot to space. It reports whether anything changed.
func (s *Store) SetSpace(id, space string) bool {
	e, ok := s.bots[id]
	if !ok || e.record.Space == space {
		return false
	}
	e.record.Space = space
	return true
}

// OwnRaw returns the raw text of a bot's own tag, ignoring masks.
func (s *Store) OwnRaw(id, tag string) string {
	if e, ok := s.bots[id]; ok {
		return e.record.Tags[tag]
	}
	return ""
}

// Raw returns the effective raw text of a tag: the highest priority mask
// defining it, or the bot's own tag.
func (s *Store) Raw(id, tag string) string {
	e, ok := s.bots[id]
	if !ok {
		return ""
	}
	return effectiveRaw(e.record, tag)
}

func effectiveRaw(rec *ir.BotRecord, tag string) string {
	if len(rec.Masks) == 0 {
		return rec.Tags[tag]
	}
	for _, space := range MaskSpaces {
		if text, ok := rec.Masks[space][tag]; ok {
			return text
		}
	}
	// Spaces outside MaskSpaces rank below admin, in name order.
	var extra []string
	for space := range rec.Masks {
		if !slices.Contains(MaskSpaces, space) {
			extra = append(extra, space)
		}
	}
	slices.Sort(extra)
	for _, space := range extra {
		if text, ok := rec.Masks[space][tag]; ok {
			return text
		}
	}
	return rec.Tags[tag]
}

// Value returns the compiled effective value of a tag. Values are cached
// per raw text, so redelivering identical text never recompiles.
func (s *Store) Value(id, tag string) ir.Value {
	e, ok := s.bots[id]
	if !ok {
		return ir.Null{}
	}
	raw := effectiveRaw(e.record, tag)
	if c, ok := e.values[tag]; ok && c.raw == raw {
		return c.value
	}
	v := compiler.Compile(raw)
	e.values[tag] = cachedValue{raw: raw, value: v}
	return v
}

// Listener returns the compiled listener of a tag, or nil when the tag
// does not hold a listener.
func (s *Store) Listener(id, tag string) *compiler.Listener {
	e, ok := s.bots[id]
	if !ok {
		return nil
	}
	raw := effectiveRaw(e.record, tag)
	if c, ok := e.listeners[tag]; ok && c.raw == raw {
		return c.listener
	}
	l := compiler.CompileListener(s.interp, id, tag, raw)
	e.listeners[tag] = cachedListener{raw: raw, listener: l}
	return l
}

// Module returns the compiled module of a tag, or nil when the tag is not
// importable.
func (s *Store) Module(id, tag string) *compiler.Module {
	e, ok := s.bots[id]
	if !ok {
		return nil
	}
	raw := effectiveRaw(e.record, tag)
	if c, ok := e.modules[tag]; ok && c.raw == raw {
		return c.module
	}
	m := compiler.CompileModule(s.interp, id, tag, raw)
	e.modules[tag] = cachedModule{raw: raw, module: m}
	return m
}

// ListenerIDs returns, in enumeration order, the ids of bots that have a
// listener or a dynamic listener for tag.
func (s *Store) ListenerIDs(tag string) []string {
	var ids []string
	for _, id := range s.order {
		if s.HasListener(id, tag) {
			ids = append(ids, id)
		}
	}
	return ids
}

// HasListener reports whether a bot has a listener or dynamic listener
// for tag.
func (s *Store) HasListener(id, tag string) bool {
	e, ok := s.bots[id]
	if !ok {
		return false
	}
	return compiler.IsListener(effectiveRaw(e.record, tag)) || len(s.dynamic[id][tag]) > 0
}

// AddDynamicListener attaches body to a bot's tag and returns a handle
// for removal.
func (s *Store) AddDynamicListener(id, tag string, body script.Body) (int64, error) {
	if !s.Has(id) {
		return 0, fmt.Errorf("add listener %s.%s: bot not found", id, tag)
	}
	if s.dynamic[id] == nil {
		s.dynamic[id] = make(map[string][]DynamicListener)
	}
	s.nextDyn++
	s.dynamic[id][tag] = append(s.dynamic[id][tag], DynamicListener{ID: s.nextDyn, Body: body})
	return s.nextDyn, nil
}

// RemoveDynamicListener detaches a dynamic listener by handle.
func (s *Store) RemoveDynamicListener(id, tag string, handle int64) bool {
	list := s.dynamic[id][tag]
	for i, dl := range list {
		if dl.ID == handle {
			s.dynamic[id][tag] = slices.Delete(slices.Clone(list), i, i+1)
			return true
		}
	}
	return false
}

// DynamicListeners returns the dynamic listeners of a bot's tag in
// attachment order.
func (s *Store) DynamicListeners(id, tag string) []DynamicListener {
	return slices.Clone(s.dynamic[id][tag])
}

// BySystem returns the ids of bots whose system tag equals system, in
// enumeration order.
func (s *Store) BySystem(system string) []string {
	return slices.Clone(s.systems[system])
}

// SystemOf returns a bot's system path.
func (s *Store) SystemOf(id string) string {
	return s.OwnRaw(id, SystemTag)
}

// Add inserts a new bot. The record is owned by the store afterwards.
func (s *Store) Add(rec *ir.BotRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("add bot: missing id")
	}
	if s.Has(rec.ID) {
		return fmt.Errorf("add bot %s: already exists", rec.ID)
	}
	s.bots[rec.ID] = newEntry(rec)
	s.order = append(s.order, rec.ID)
	if sys := rec.Tags[SystemTag]; sys != "" {
		s.systems[sys] = append(s.systems[sys], rec.ID)
	}
	return nil
}

// Remove deletes a bot together with its index entries and dynamic
// listeners. It reports whether the bot existed.
func (s *Store) Remove(id string) bool {
	e, ok := s.bots[id]
	if !ok {
		return false
	}
	delete(s.bots, id)
	s.order = slices.DeleteFunc(s.order, func(other string) bool { return other == id })
	if sys := e.record.Tags[SystemTag]; sys != "" {
		s.unindexSystem(id, sys)
	}
	delete(s.dynamic, id)
	for _, o := range s.observers {
		o.BotRemoved(id)
	}
	return true
}

// SetTag sets a bot's own tag. Empty text removes the tag. It reports
// whether the raw text changed.
func (s *Store) SetTag(id, tag, text string) bool {
	e, ok := s.bots[id]
	if !ok || e.record.Tags[tag] == text {
		return false
	}
	before := effectiveRaw(e.record, tag)
	old := e.record.Tags[tag]
	if text == "" {
		delete(e.record.Tags, tag)
	} else {
		e.record.Tags[tag] = text
	}
	if tag == SystemTag {
		if old != "" {
			s.unindexSystem(id, old)
		}
		if text != "" {
			s.indexSystem(text)
		}
	}
	s.notify(id, tag, before, effectiveRaw(e.record, tag))
	return true
}

// SetMask sets a tag mask in space. Empty text removes the mask entry,
// falling back to the next lower priority layer.
func (s *Store) SetMask(id, space, tag, text string) bool {
	e, ok := s.bots[id]
	if !ok {
		return false
	}
	current, exists := e.record.Masks[space][tag]
	if (text == "" && !exists) || (exists && current == text) {
		return false
	}
	before := effectiveRaw(e.record, tag)
	if text == "" {
		delete(e.record.Masks[space], tag)
		if len(e.record.Masks[space]) == 0 {
			delete(e.record.Masks, space)
		}
	} else {
		if e.record.Masks == nil {
			e.record.Masks = map[string]map[string]string{}
		}
		if e.record.Masks[space] == nil {
			e.record.Masks[space] = map[string]string{}
		}
		e.record.Masks[space][tag] = text
	}
	s.notify(id, tag, before, effectiveRaw(e.record, tag))
	return true
}

// ApplyEdit applies an incremental edit to a bot's own tag and remembers
// its id. An edit whose id was already applied is skipped. It returns the
// resulting text and whether anything changed.
func (s *Store) ApplyEdit(id, tag string, edit *ir.TagEdit) (string, bool) {
	if edit.ID != "" {
		if _, seen := s.edits[edit.ID]; seen {
			return s.OwnRaw(id, tag), false
		}
		s.edits[edit.ID] = struct{}{}
	}
	text := edit.Apply(s.OwnRaw(id, tag))
	return text, s.SetTag(id, tag, text)
}

// EditApplied reports whether an edit id has been applied.
func (s *Store) EditApplied(editID string) bool {
	_, ok := s.edits[editID]
	return ok
}

func (s *Store) notify(id, tag, before, after string) {
	if before == after {
		return
	}
	for _, o := range s.observers {
		o.TagChanged(id, tag, before, after)
	}
}

func (s *Store) unindexSystem(id, system string) {
	ids := slices.DeleteFunc(s.systems[system], func(other string) bool { return other == id })
	if len(ids) == 0 {
		delete(s.systems, system)
		return
	}
	s.systems[system] = ids
}

// indexSystem rebuilds one system entry so it stays in enumeration order.
func (s *Store) indexSystem(system string) {
	var ids []string
	for _, id := range s.order {
		if s.bots[id].record.Tags[SystemTag] == system {
			ids = append(ids, id)
		}
	}
	s.systems[system] = ids
}

// counter is the default Sequencer.
type counter struct{ n int64 }

func (c *counter) Next() int64    { c.n++; return c.n }
func (c *counter) Current() int64 { return c.n }
