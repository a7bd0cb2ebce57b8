// ABOUTME: Tool provider contract shared by all backend packs.
// ABOUTME: A pack declares named tools with JSON schemas and in-process handlers.

package provider

import (
	"context"
	"encoding/json"
)

// Handler executes a single tool. It receives the tool input as JSON and
// returns the result as JSON or an error. Handler errors are surfaced to the
// caller as failure results, never as crashes.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Descriptor describes one tool: its local (unprefixed) name, a human-readable
// description, the JSON schema of its input, and whether the operation is safe
// to retry. Descriptors are immutable once a pack is registered.
type Descriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	// Idempotent marks operations that are safe to re-dispatch. Operations
	// with external side effects (e.g. sending mail) must leave this false.
	Idempotent bool
}

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor Descriptor
	Handler    Handler
}

// Pack is a collection of tools exposed by one backend.
type Pack struct {
	ID      string
	Version string
	Tools   []*Tool
}

// Tool returns the tool with the given local name, or nil if absent.
func (p *Pack) Tool(name string) *Tool {
	for _, t := range p.Tools {
		if t.Descriptor.Name == name {
			return t
		}
	}
	return nil
}
