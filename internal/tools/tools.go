// Package tools implements the tool executors the Responses Agent Loop
// calls when the model emits a tool call (§4.G): a web-search provider, a
// file-search provider scoped to a conversation, and a builtin
// current-date tool that never touches the network.
package tools

import "context"

// Executor is the polymorphic tool-provider contract every tool satisfies
// (§4.G: "all tool providers are polymorphic over {search(params) →
// results}"). params is the tool call's arguments, already JSON-decoded;
// unknown keys must be ignored rather than rejected.
type Executor interface {
	Search(ctx context.Context, params map[string]any) (string, error)
}
