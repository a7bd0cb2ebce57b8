// ABOUTME: ScriptedAdapter replays a fixed sequence of decisions.
// ABOUTME: Used by tests and by the demo mode of the chat CLI.

package agent

import (
	"context"
	"sync"

	"github.com/halcyard/toolgate/internal/registry"
	"github.com/halcyard/toolgate/internal/session"
)

// ScriptStep is one canned adapter response.
type ScriptStep struct {
	Decision *Decision
	Err      error
}

// ScriptedAdapter returns its steps in order. When steps run out it returns
// Default if set, otherwise ErrAmbiguousModelResponse. It records every call
// so tests can assert on what the loop sent.
type ScriptedAdapter struct {
	mu      sync.Mutex
	steps   []ScriptStep
	next    int
	Default *Decision

	// Calls holds the history length of each Send invocation, in order.
	Calls []int
	// LastTools holds the capability list from the most recent Send.
	LastTools []registry.Capability
}

// NewScriptedAdapter creates an adapter that replays the given steps.
func NewScriptedAdapter(steps ...ScriptStep) *ScriptedAdapter {
	return &ScriptedAdapter{steps: steps}
}

func (a *ScriptedAdapter) Send(ctx context.Context, history []*session.Turn, tools []registry.Capability) (*Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Calls = append(a.Calls, len(history))
	a.LastTools = tools

	if a.next < len(a.steps) {
		step := a.steps[a.next]
		a.next++
		return step.Decision, step.Err
	}
	if a.Default != nil {
		return a.Default, nil
	}
	return nil, ErrAmbiguousModelResponse
}
