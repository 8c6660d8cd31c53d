package harness

import (
	"sort"

	"github.com/roach88/botloom/internal/compiler"
	"github.com/roach88/botloom/internal/ir"
)

// World is a set of bots keyed by id, as written in scenario and world
// files. A nil entry deletes the bot when the world is applied as a delta.
type World map[string]*BotSpec

// BotSpec describes one bot. Tag values are written as YAML scalars;
// strings are used verbatim as tag text and anything else is formatted the
// way a script writing the value would format it.
type BotSpec struct {
	Space string `yaml:"space,omitempty" json:"space,omitempty"`

	// Partial merges Tags into the existing bot instead of replacing it.
	// A null tag value deletes the tag.
	Partial bool `yaml:"partial,omitempty" json:"partial,omitempty"`

	Tags  map[string]any            `yaml:"tags,omitempty" json:"tags,omitempty"`
	Masks map[string]map[string]any `yaml:"masks,omitempty" json:"masks,omitempty"`
}

// IDs returns the bot ids in sorted order.
func (w World) IDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delta converts the world into a delta. Entries are full records unless
// marked partial.
func (w World) Delta() ir.Delta {
	delta := make(ir.Delta, len(w))
	for id, spec := range w {
		if spec == nil {
			delta[id] = nil
			continue
		}
		d := &ir.BotDelta{Space: spec.Space, Tags: tagInputs(spec.Tags, spec.Partial)}
		if !spec.Partial {
			d.ID = id
		}
		if len(spec.Masks) > 0 {
			d.Masks = make(map[string]map[string]ir.TagInput, len(spec.Masks))
			for space, tags := range spec.Masks {
				d.Masks[space] = tagInputs(tags, spec.Partial)
			}
		}
		delta[id] = d
	}
	return delta
}

func tagInputs(tags map[string]any, partial bool) map[string]ir.TagInput {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]ir.TagInput, len(tags))
	for tag, v := range tags {
		switch {
		case v == nil && partial:
			out[tag] = ir.Deleted()
		case v == nil:
		default:
			out[tag] = ir.Text(TagText(v))
		}
	}
	return out
}

// TagText formats a YAML or CUE scalar as tag text.
func TagText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return compiler.FormatAny(v)
}
