package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ActionKind tags the variants of the Action union.
type ActionKind string

const (
	KindAddBot                ActionKind = "add_bot"
	KindRemoveBot             ActionKind = "remove_bot"
	KindUpdateBot             ActionKind = "update_bot"
	KindAsyncResult           ActionKind = "async_result"
	KindAsyncError            ActionKind = "async_error"
	KindIterableNext          ActionKind = "iterable_next"
	KindIterableComplete      ActionKind = "iterable_complete"
	KindIterableThrow         ActionKind = "iterable_throw"
	KindRegisterBuiltinPortal ActionKind = "register_builtin_portal"
	KindDefineGlobalBot       ActionKind = "define_global_bot"
	KindReject                ActionKind = "reject"
	KindHost                  ActionKind = "host"
)

// Action is a closed union of batch records. Every variant is a pointer
// type, so the identity of an action instance is its pointer.
//
// Only two sites switch over the variants: the edit-mode gate (bot
// mutations) and reserved control handling in the scheduler. Everything
// else treats actions as opaque.
type Action interface {
	Kind() ActionKind
	action()
}

// AddBotAction adds a bot.
type AddBotAction struct {
	Bot *BotRecord `json:"bot"`
}

// RemoveBotAction removes a bot.
type RemoveBotAction struct {
	ID string `json:"id"`
}

// UpdateBotAction patches a bot's tags and masks. Edits carries the
// incremental edits behind tag changes so that a transport echoing them
// back as a delta can be recognized.
type UpdateBotAction struct {
	ID string `json:"id"`
	BotPatch
	Edits map[string]*TagEdit `json:"edits,omitempty"`
}

// AsyncResultAction resolves a pending task.
type AsyncResultAction struct {
	TaskID int64 `json:"task_id"`
	Result any   `json:"result"`
}

// AsyncErrorAction rejects a pending task.
type AsyncErrorAction struct {
	TaskID int64  `json:"task_id"`
	Error  string `json:"error"`
}

// IterableNextAction delivers one value to an iterating task.
type IterableNextAction struct {
	TaskID int64 `json:"task_id"`
	Value  any   `json:"value"`
}

// IterableCompleteAction ends an iterating task.
type IterableCompleteAction struct {
	TaskID int64 `json:"task_id"`
}

// IterableThrowAction ends an iterating task with an error.
type IterableThrowAction struct {
	TaskID int64  `json:"task_id"`
	Error  string `json:"error"`
}

// RegisterBuiltinPortalAction registers a builtin portal name.
type RegisterBuiltinPortalAction struct {
	Portal string `json:"portal"`
}

// DefineGlobalBotAction binds a global name to a bot id.
type DefineGlobalBotAction struct {
	Name  string `json:"name"`
	BotID string `json:"bot_id"`
}

// RejectAction is the wrapper recorded when an interception handler
// rejects an action.
type RejectAction struct {
	Action Action `json:"-"`
}

// HostAction is an opaque action for the host capability library
// (toasts, requests, ...). TaskID is non-zero when the action is an
// asynchronous request awaiting an AsyncResultAction.
type HostAction struct {
	Type    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
	TaskID  int64          `json:"task_id,omitempty"`
}

func (*AddBotAction) Kind() ActionKind                { return KindAddBot }
func (*RemoveBotAction) Kind() ActionKind             { return KindRemoveBot }
func (*UpdateBotAction) Kind() ActionKind             { return KindUpdateBot }
func (*AsyncResultAction) Kind() ActionKind           { return KindAsyncResult }
func (*AsyncErrorAction) Kind() ActionKind            { return KindAsyncError }
func (*IterableNextAction) Kind() ActionKind          { return KindIterableNext }
func (*IterableCompleteAction) Kind() ActionKind      { return KindIterableComplete }
func (*IterableThrowAction) Kind() ActionKind         { return KindIterableThrow }
func (*RegisterBuiltinPortalAction) Kind() ActionKind { return KindRegisterBuiltinPortal }
func (*DefineGlobalBotAction) Kind() ActionKind       { return KindDefineGlobalBot }
func (*RejectAction) Kind() ActionKind                { return KindReject }
func (*HostAction) Kind() ActionKind                  { return KindHost }

func (*AddBotAction) action()                {}
func (*RemoveBotAction) action()             {}
func (*UpdateBotAction) action()             {}
func (*AsyncResultAction) action()           {}
func (*AsyncErrorAction) action()            {}
func (*IterableNextAction) action()          {}
func (*IterableCompleteAction) action()      {}
func (*IterableThrowAction) action()         {}
func (*RegisterBuiltinPortalAction) action() {}
func (*DefineGlobalBotAction) action()       {}
func (*RejectAction) action()                {}
func (*HostAction) action()                  {}

// IsMutation reports whether the action mutates bot state.
func IsMutation(a Action) bool {
	switch a.Kind() {
	case KindAddBot, KindRemoveBot, KindUpdateBot:
		return true
	}
	return false
}

// Toast builds the host action scripts use to show a message.
func Toast(message any) *HostAction {
	return &HostAction{Type: "toast", Payload: map[string]any{"message": message}}
}

// actionFactories creates empty variants for decoding.
var actionFactories = map[ActionKind]func() Action{
	KindAddBot:                func() Action { return &AddBotAction{} },
	KindRemoveBot:             func() Action { return &RemoveBotAction{} },
	KindUpdateBot:             func() Action { return &UpdateBotAction{} },
	KindAsyncResult:           func() Action { return &AsyncResultAction{} },
	KindAsyncError:            func() Action { return &AsyncErrorAction{} },
	KindIterableNext:          func() Action { return &IterableNextAction{} },
	KindIterableComplete:      func() Action { return &IterableCompleteAction{} },
	KindIterableThrow:         func() Action { return &IterableThrowAction{} },
	KindRegisterBuiltinPortal: func() Action { return &RegisterBuiltinPortalAction{} },
	KindDefineGlobalBot:       func() Action { return &DefineGlobalBotAction{} },
	KindHost:                  func() Action { return &HostAction{} },
}

// EncodeAction marshals an action to a JSON object with a "type" field
// naming its kind. Reject wrappers embed the encoded original under "action".
func EncodeAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("encode action: nil action")
	}

	fields := map[string]any{}
	if r, ok := a.(*RejectAction); ok {
		if r.Action != nil {
			inner, err := EncodeAction(r.Action)
			if err != nil {
				return nil, fmt.Errorf("encode reject: %w", err)
			}
			fields["action"] = json.RawMessage(inner)
		}
	} else {
		body, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode action %s: %w", a.Kind(), err)
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("encode action %s: %w", a.Kind(), err)
		}
	}
	fields["type"] = string(a.Kind())

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("encode action %s: %w", a.Kind(), err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeAction unmarshals an action produced by EncodeAction.
func DecodeAction(data []byte) (Action, error) {
	var head struct {
		Type   ActionKind      `json:"type"`
		Action json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}

	if head.Type == KindReject {
		r := &RejectAction{}
		if len(head.Action) > 0 {
			inner, err := DecodeAction(head.Action)
			if err != nil {
				return nil, fmt.Errorf("decode reject: %w", err)
			}
			r.Action = inner
		}
		return r, nil
	}

	factory, ok := actionFactories[head.Type]
	if !ok {
		return nil, fmt.Errorf("decode action: unknown type %q", head.Type)
	}
	a := factory()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(a); err != nil {
		return nil, fmt.Errorf("decode action %s: %w", head.Type, err)
	}
	return a, nil
}

// ActionMap converts an action to generic JSON data (maps, slices,
// json.Number) for canonical serialization and assertions.
func ActionMap(a Action) (map[string]any, error) {
	data, err := EncodeAction(a)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("action map: %w", err)
	}
	return out, nil
}
