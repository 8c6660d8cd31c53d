// Package scripttest provides a recording script.Host for interpreter tests.
package scripttest

import (
	"fmt"
	"time"

	"github.com/roach88/botloom/internal/ir"
	"github.com/roach88/botloom/internal/script"
)

// Host is an in-memory script.Host. Tags are plain values keyed by bot id
// and tag name; performed actions and traps are recorded in order.
// Requests are answered from Responses keyed by the host action type.
type Host struct {
	Bot       string
	Tag       string
	Tags      map[string]map[string]any
	Performed []ir.Action
	Rejected  []ir.Action
	Traps     []script.TrapEvent
	Shouts    []string
	Responses map[string]any
	Modules   map[string]script.Exports
	created   int
}

// New creates a host bound to bot and tag.
func New(bot, tag string) *Host {
	return &Host{
		Bot:       bot,
		Tag:       tag,
		Tags:      map[string]map[string]any{},
		Responses: map[string]any{},
		Modules:   map[string]script.Exports{},
	}
}

var _ script.Host = (*Host)(nil)

func (h *Host) BotID() string   { return h.Bot }
func (h *Host) TagName() string { return h.Tag }

func (h *Host) GetTag(botID, tag string) any {
	return h.Tags[botID][tag]
}

func (h *Host) SetTag(botID, tag string, value any) error {
	if h.Tags[botID] == nil {
		h.Tags[botID] = map[string]any{}
	}
	h.Tags[botID][tag] = value
	return nil
}

func (h *Host) EditTag(botID, tag string, ops ...ir.EditOp) error {
	prior, _ := h.GetTag(botID, tag).(string)
	edit := &ir.TagEdit{ID: "edit", Ops: ops}
	return h.SetTag(botID, tag, edit.Apply(prior))
}

func (h *Host) SetMask(botID, space, tag string, value any) error {
	return h.SetTag(botID, space+":"+tag, value)
}

func (h *Host) BotIDs() []string {
	ids := make([]string, 0, len(h.Tags))
	for id := range h.Tags {
		ids = append(ids, id)
	}
	return ids
}

func (h *Host) CreateBot(_ string, tags map[string]any) (string, error) {
	h.created++
	id := fmt.Sprintf("created-%d", h.created)
	h.Tags[id] = map[string]any{}
	for k, v := range tags {
		h.Tags[id][k] = v
	}
	return id, nil
}

func (h *Host) DestroyBot(botID string) error {
	delete(h.Tags, botID)
	return nil
}

func (h *Host) Shout(name string, _ any) (*script.ShoutResult, error) {
	h.Shouts = append(h.Shouts, name)
	return &script.ShoutResult{}, nil
}

func (h *Host) Whisper(_ []string, name string, arg any) (*script.ShoutResult, error) {
	return h.Shout(name, arg)
}

func (h *Host) Perform(a ir.Action) { h.Performed = append(h.Performed, a) }
func (h *Host) Reject(a ir.Action)  { h.Rejected = append(h.Rejected, a) }

func (h *Host) Request(a *ir.HostAction) (any, error) {
	h.Performed = append(h.Performed, a)
	resp, ok := h.Responses[a.Type]
	if !ok {
		return nil, fmt.Errorf("no response for %q", a.Type)
	}
	if err, isErr := resp.(error); isErr {
		return nil, err
	}
	return resp, nil
}

func (h *Host) Iterate(a *ir.HostAction) (script.Iterator, error) {
	values, _ := h.Responses[a.Type].([]any)
	return &sliceIterator{values: values}, nil
}

func (h *Host) SetTimeout(time.Duration, func(script.Host)) int64 { return 0 }
func (h *Host) ClearTimeout(int64) bool                          { return false }
func (h *Host) Sleep(time.Duration) error                        { return nil }

func (h *Host) Import(specifier string) (script.Exports, error) {
	exports, ok := h.Modules[specifier]
	if !ok {
		return nil, fmt.Errorf("module %q not found", specifier)
	}
	return exports, nil
}

func (h *Host) Global(string) (string, bool) { return "", false }

func (h *Host) AddListener(string, string, script.Body) int64 { return 0 }
func (h *Host) RemoveListener(string, string, int64) bool     { return false }

func (h *Host) Trap(ev script.TrapEvent) { h.Traps = append(h.Traps, ev) }

type sliceIterator struct {
	values []any
	pos    int
}

func (it *sliceIterator) Next() (any, bool, error) {
	if it.pos >= len(it.values) {
		return nil, false, nil
	}
	v := it.values[it.pos]
	it.pos++
	return v, true, nil
}
