package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/botloom/internal/ir"
)

// encodeActions converts an action list to a JSON array TEXT of encoded
// actions.
func encodeActions(actions []ir.Action) (string, error) {
	items := make([]json.RawMessage, len(actions))
	for i, a := range actions {
		data, err := ir.EncodeAction(a)
		if err != nil {
			return "", fmt.Errorf("encode actions: action[%d]: %w", i, err)
		}
		items[i] = data
	}
	return marshalJSON(items)
}

// encodeRejected encodes reject wrappers the same way as actions.
func encodeRejected(rejected []*ir.RejectAction) (string, error) {
	actions := make([]ir.Action, len(rejected))
	for i, r := range rejected {
		actions[i] = r
	}
	return encodeActions(actions)
}

// decodeActions parses TEXT written by encodeActions.
func decodeActions(data string) ([]ir.Action, error) {
	if data == "" || data == "[]" {
		return []ir.Action{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	out := make([]ir.Action, len(items))
	for i, item := range items {
		a, err := ir.DecodeAction(item)
		if err != nil {
			return nil, fmt.Errorf("decode actions: action[%d]: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

// marshalJSON converts a value to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so scripts' text is stored
// as written; map keys come out sorted.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalJSON parses JSON TEXT into v, keeping numbers as json.Number.
func unmarshalJSON(data string, v any) error {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

// nonNil returns ids or an empty slice so columns never hold "null".
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
