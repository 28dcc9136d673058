// toolcalls.go is the pure tool-call fragment reassembly state machine
// (§3, §4.E): a map<index, (name?, args_buffer)> accumulator, kept free of
// I/O so it can be driven by tests directly against a list of fragments.
package responses

import "github.com/llmrouter/gateway/internal/provider"

type toolCallEntry struct {
	id   string
	name string
	args string
}

// toolCallAccumulator reassembles streamed ToolCallFragments into
// complete tool calls, keyed by index. A fragment with no explicit index
// is treated as index 0 — Go's zero value for int already gives us this
// for free, since provider.ToolCallFragment.Index decodes to 0 when the
// field is absent from the JSON.
type toolCallAccumulator struct {
	entries map[int]*toolCallEntry
	order   []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{entries: make(map[int]*toolCallEntry)}
}

// add folds a set of fragments (one StreamChunk's delta.tool_calls) into
// the accumulator.
func (t *toolCallAccumulator) add(fragments []provider.ToolCallFragment) {
	for _, f := range fragments {
		entry, ok := t.entries[f.Index]
		if !ok {
			entry = &toolCallEntry{}
			t.entries[f.Index] = entry
			t.order = append(t.order, f.Index)
		}
		if f.ID != "" && entry.id == "" {
			entry.id = f.ID
		}
		if f.Function.Name != "" && entry.name == "" {
			entry.name = f.Function.Name
		}
		entry.args += f.Function.Arguments
	}
}

func (t *toolCallAccumulator) empty() bool {
	return len(t.entries) == 0
}

// resolved is one fully-reassembled (but not yet validated) tool call.
type resolved struct {
	index int
	id    string
	name  string
	args  string
}

// inOrder returns every accumulated tool call sorted by index ascending
// (§4.E: "for each (index, entry) in tool_calls (in order of index)").
func (t *toolCallAccumulator) inOrder() []resolved {
	indexes := append([]int(nil), t.order...)
	// order already reflects first-seen order, which for well-behaved
	// streams coincides with ascending index; sort defensively since the
	// spec requires index order regardless of arrival order.
	for i := 1; i < len(indexes); i++ {
		for j := i; j > 0 && indexes[j-1] > indexes[j]; j-- {
			indexes[j-1], indexes[j] = indexes[j], indexes[j-1]
		}
	}

	out := make([]resolved, 0, len(indexes))
	for _, idx := range indexes {
		e := t.entries[idx]
		out = append(out, resolved{index: idx, id: e.id, name: e.name, args: e.args})
	}
	return out
}
