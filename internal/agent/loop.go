// ABOUTME: The agent loop state machine driving model decisions and tool dispatch.
// ABOUTME: All state lives in the session store so a crashed loop resumes from history.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/halcyard/toolgate/internal/gateway"
	"github.com/halcyard/toolgate/internal/registry"
	"github.com/halcyard/toolgate/internal/session"
)

// ErrIterationLimitExceeded marks the loop's safety valve: it ends the turn,
// not the conversation.
var ErrIterationLimitExceeded = errors.New("iteration limit exceeded")

// State names the loop's position inside one user turn.
type State string

const (
	StateAwaitingUserInput State = "awaiting_user_input"
	StateModelThinking     State = "model_thinking"
	StateToolDispatch      State = "tool_dispatch"
	StateResponding        State = "responding"
)

// DefaultMaxToolCycles bounds tool dispatches per user turn.
const DefaultMaxToolCycles = 10

// Dispatcher executes tool calls on behalf of the loop. The gateway Router
// satisfies this in-process; an HTTP client satisfies it remotely.
type Dispatcher interface {
	Dispatch(ctx context.Context, req gateway.CallRequest) gateway.Result
	Capabilities() []registry.Capability
}

// Config assembles a Loop's collaborators.
type Config struct {
	Store         session.Store
	Dispatcher    Dispatcher
	Adapter       ModelAdapter
	MaxToolCycles int
	Logger        *slog.Logger
}

// Loop coordinates one conversation turn at a time: propose tool call,
// execute, feed the result back, repeat until the model answers or a limit is
// reached. Loops for distinct conversations run fully in parallel; the only
// shared mutable state is the store and the registry.
type Loop struct {
	store      session.Store
	dispatcher Dispatcher
	adapter    ModelAdapter
	maxCycles  int
	logger     *slog.Logger
}

// New creates a Loop.
func New(cfg Config) *Loop {
	maxCycles := cfg.MaxToolCycles
	if maxCycles <= 0 {
		maxCycles = DefaultMaxToolCycles
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		adapter:    cfg.Adapter,
		maxCycles:  maxCycles,
		logger:     logger.With("component", "agent"),
	}
}

// HandleUserMessage runs one full turn: it appends the user turn, iterates
// model thinking and tool dispatch, and returns the final assistant text.
// The user always receives final text, even when every tool attempt failed;
// infrastructure errors from the store are the only errors returned.
func (l *Loop) HandleUserMessage(ctx context.Context, conversationID, text string) (string, error) {
	// Record first, then act: the user turn is durable before the model
	// sees it, so a crash mid-loop leaves a resumable history.
	if err := l.store.Append(ctx, conversationID, &session.Turn{
		Role:    session.RoleUser,
		Content: text,
	}); err != nil {
		return "", fmt.Errorf("recording user turn: %w", err)
	}

	state := StateModelThinking
	cycles := 0

	for {
		l.logger.Debug("loop state", "conversation_id", conversationID, "state", state, "cycles", cycles)

		// The store is the single source of truth: re-read it on every
		// iteration instead of carrying private loop state.
		history, err := l.store.ReadHistory(ctx, conversationID, 0)
		if err != nil {
			return "", fmt.Errorf("reading history: %w", err)
		}

		decision, err := l.adapter.Send(ctx, history, l.dispatcher.Capabilities())
		if err != nil {
			if errors.Is(err, ErrAmbiguousModelResponse) {
				l.logger.Warn("ambiguous model response", "conversation_id", conversationID)
				return l.respond(ctx, conversationID,
					"The model returned a response I could not interpret, so I am stopping here.")
			}
			l.logger.Warn("model call failed", "conversation_id", conversationID, "error", err)
			return l.respond(ctx, conversationID,
				fmt.Sprintf("The model call failed (%v), so I cannot answer right now.", err))
		}

		if decision.ToolCall == nil {
			state = StateResponding
			l.logger.Debug("loop state", "conversation_id", conversationID, "state", state, "cycles", cycles)
			if err := l.store.Append(ctx, conversationID, &session.Turn{
				Role:    session.RoleAssistant,
				Content: decision.FinalText,
			}); err != nil {
				return "", fmt.Errorf("recording assistant turn: %w", err)
			}
			l.logger.Info("turn complete",
				"conversation_id", conversationID,
				"tool_cycles", cycles,
			)
			return decision.FinalText, nil
		}

		// Cancellation is cooperative: checked between thinking and
		// dispatch, and again between dispatch and the next thinking step.
		if ctx.Err() != nil {
			return l.respondInterrupted(conversationID)
		}

		if cycles >= l.maxCycles {
			l.logger.Warn("tool cycle limit reached",
				"conversation_id", conversationID,
				"max_cycles", l.maxCycles,
			)
			return l.respond(ctx, conversationID, fmt.Sprintf(
				"%v: stopped after %d tool calls without reaching an answer.",
				ErrIterationLimitExceeded, l.maxCycles))
		}

		call := *decision.ToolCall
		if call.ID == "" {
			call.ID = uuid.New().String()
		}

		if err := l.store.Append(ctx, conversationID, &session.Turn{
			Role:     session.RoleAssistant,
			ToolCall: &call,
		}); err != nil {
			return "", fmt.Errorf("recording tool call turn: %w", err)
		}

		state = StateToolDispatch
		result := l.dispatcher.Dispatch(ctx, call)
		cycles++

		// Failures are appended, not thrown, so the model can see and
		// react to them on the next thinking step.
		if err := l.store.Append(ctx, conversationID, &session.Turn{
			Role:       session.RoleTool,
			Content:    renderResult(result),
			ToolResult: &result,
		}); err != nil {
			return "", fmt.Errorf("recording tool result turn: %w", err)
		}

		if ctx.Err() != nil {
			return l.respondInterrupted(conversationID)
		}
		state = StateModelThinking
	}
}

// respond appends a synthesized assistant turn and ends the turn in
// StateResponding. Used for limit, cancellation, and model-failure endings.
func (l *Loop) respond(ctx context.Context, conversationID, text string) (string, error) {
	if err := l.store.Append(ctx, conversationID, &session.Turn{
		Role:    session.RoleAssistant,
		Content: text,
	}); err != nil {
		return "", fmt.Errorf("recording synthesized turn: %w", err)
	}
	return text, nil
}

// respondInterrupted marks the interruption with a fresh context since the
// loop context is already cancelled.
func (l *Loop) respondInterrupted(conversationID string) (string, error) {
	return l.respond(context.Background(), conversationID,
		"The request was cancelled before I could finish.")
}

// renderResult flattens a tool result into model-readable text.
func renderResult(result gateway.Result) string {
	if result.Status == gateway.StatusSuccess {
		return string(result.Payload)
	}
	if result.Error != nil {
		return fmt.Sprintf("ERROR[%s]: %s", result.Error.Code, result.Error.Message)
	}
	return "ERROR: tool call failed"
}
