// ABOUTME: ModelAdapter is the polymorphic boundary to an upstream language model.
// ABOUTME: Every variant maps its native response to exactly one decision: tool call or final text.

package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/halcyard/toolgate/internal/gateway"
	"github.com/halcyard/toolgate/internal/registry"
	"github.com/halcyard/toolgate/internal/session"
)

// ErrAmbiguousModelResponse indicates the upstream response carried neither a
// clear tool call nor final text. The loop treats it as a tool failure and
// ends the turn gracefully.
var ErrAmbiguousModelResponse = errors.New("ambiguous model response")

// Decision is a model's verdict for one thinking step: exactly one of
// FinalText or ToolCall is set, never both, never neither.
type Decision struct {
	FinalText string
	ToolCall  *gateway.CallRequest
}

// ModelAdapter sends the conversation history and capability list to an
// upstream model and returns its decision. Implementations must not mutate
// history.
type ModelAdapter interface {
	Send(ctx context.Context, history []*session.Turn, tools []registry.Capability) (*Decision, error)
}

// Qualified names are dot-delimited, but upstream providers restrict tool
// names to [A-Za-z0-9_-]. Dots are encoded as "__" on the wire; neither
// prefixes nor local tool names contain double underscores.

func wireName(qualifiedName string) string {
	return strings.ReplaceAll(qualifiedName, ".", "__")
}

func qualifiedName(wire string) string {
	return strings.ReplaceAll(wire, "__", ".")
}
