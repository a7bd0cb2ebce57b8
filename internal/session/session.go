// ABOUTME: Store interface and turn types for durable conversation history.
// ABOUTME: Turns are append-only and totally ordered per conversation.

package session

import (
	"context"
	"errors"
	"time"

	"github.com/halcyard/toolgate/internal/gateway"
)

// ErrUnknownConversation is returned when reading a conversation that was
// never created. Appends auto-create, so this is a read-only failure.
var ErrUnknownConversation = errors.New("unknown conversation")

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one atomic, append-only record in a conversation. Sequence numbers
// are strictly increasing per conversation; turns are never edited or deleted
// by normal operation.
type Turn struct {
	ConversationID string
	Seq            int64
	Role           Role
	Content        string
	// ToolCall is set on assistant turns that request a tool invocation.
	ToolCall *gateway.CallRequest
	// ToolResult is set on tool turns; it references the call that produced it.
	ToolResult *gateway.Result
	CreatedAt  time.Time
}

// ConversationInfo summarizes one stored conversation.
type ConversationInfo struct {
	ID        string
	TurnCount int64
	CreatedAt time.Time
	EndedAt   *time.Time
}

// Store persists conversation turns. Appends to the same conversation
// serialize (single writer per conversation); appends to different
// conversations proceed independently.
type Store interface {
	// Append assigns the next sequence number atomically and persists the
	// turn. The conversation is created on first append.
	Append(ctx context.Context, conversationID string, turn *Turn) error

	// ReadHistory returns turns oldest-first. If maxTurns > 0, the most
	// recent turns are returned, truncated from the front on turn
	// boundaries: a tool turn is never separated from the assistant turn
	// that requested it. Returns ErrUnknownConversation if the conversation
	// was never created.
	ReadHistory(ctx context.Context, conversationID string, maxTurns int) ([]*Turn, error)

	// ListConversations returns stored conversations, most recent first.
	ListConversations(ctx context.Context, limit int) ([]*ConversationInfo, error)

	// EndConversation marks a conversation as explicitly ended. History
	// remains readable. Returns ErrUnknownConversation if never created.
	EndConversation(ctx context.Context, conversationID string) error

	// Close releases any resources held by the store.
	Close() error
}
