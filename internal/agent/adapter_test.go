// ABOUTME: Tests for wire-name encoding and SDK message conversion.
// ABOUTME: Response decoding must always yield exactly one decision or an ambiguity error.

package agent

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/halcyard/toolgate/internal/gateway"
	"github.com/halcyard/toolgate/internal/registry"
	"github.com/halcyard/toolgate/internal/session"
)

func TestWireNameRoundTrip(t *testing.T) {
	cases := []struct {
		qualified string
		wire      string
	}{
		{"storage.read_query", "storage__read_query"},
		{"mail.send_email", "mail__send_email"},
		{"tools.db.read", "tools__db__read"},
	}
	for _, tc := range cases {
		if got := wireName(tc.qualified); got != tc.wire {
			t.Errorf("wireName(%q) = %q, expected %q", tc.qualified, got, tc.wire)
		}
		if got := qualifiedName(tc.wire); got != tc.qualified {
			t.Errorf("qualifiedName(%q) = %q, expected %q", tc.wire, got, tc.qualified)
		}
	}
}

func TestToAnthropicTools(t *testing.T) {
	tools := []registry.Capability{
		{
			QualifiedName: "storage.read_query",
			Description:   "Run a SELECT",
			InputSchema:   json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
		},
	}

	result := toAnthropicTools(tools)

	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].OfTool.Name != "storage__read_query" {
		t.Errorf("expected wire-encoded name, got %q", result[0].OfTool.Name)
	}
	if len(result[0].OfTool.InputSchema.Required) != 1 {
		t.Errorf("expected required fields to survive, got %v", result[0].OfTool.InputSchema.Required)
	}
}

func TestToAnthropicMessages(t *testing.T) {
	history := []*session.Turn{
		{Role: session.RoleUser, Content: "how many users?"},
		{Role: session.RoleAssistant, ToolCall: &gateway.CallRequest{
			ID:            "call-1",
			QualifiedName: "storage.read_query",
			Arguments:     map[string]any{"query": "SELECT 1"},
		}},
		{Role: session.RoleTool, Content: `{"rows":[]}`, ToolResult: &gateway.Result{
			CallID: "call-1",
			Status: gateway.StatusSuccess,
		}},
	}

	msgs := toAnthropicMessages(history)

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	// Tool results ride on user-role messages in the Anthropic API.
	if msgs[2].Role != "user" {
		t.Errorf("expected tool result as user message, got role %q", msgs[2].Role)
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("expected assistant role, got %q", msgs[1].Role)
	}
}

func makeAnthropicBlock(t *testing.T, raw string) anthropic.ContentBlockUnion {
	t.Helper()
	var block anthropic.ContentBlockUnion
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		t.Fatalf("building content block: %v", err)
	}
	return block
}

func TestDecisionFromAnthropicText(t *testing.T) {
	resp := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			makeAnthropicBlock(t, `{"type":"text","text":"There are 42 users."}`),
		},
	}

	decision, err := decisionFromAnthropic(resp)
	if err != nil {
		t.Fatalf("decisionFromAnthropic failed: %v", err)
	}
	if decision.FinalText != "There are 42 users." {
		t.Errorf("expected final text, got %q", decision.FinalText)
	}
	if decision.ToolCall != nil {
		t.Error("expected no tool call")
	}
}

func TestDecisionFromAnthropicToolUse(t *testing.T) {
	resp := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			makeAnthropicBlock(t, `{"type":"tool_use","id":"toolu_1","name":"storage__read_query","input":{"query":"SELECT 1"}}`),
		},
	}

	decision, err := decisionFromAnthropic(resp)
	if err != nil {
		t.Fatalf("decisionFromAnthropic failed: %v", err)
	}
	if decision.ToolCall == nil {
		t.Fatal("expected tool call")
	}
	if decision.ToolCall.QualifiedName != "storage.read_query" {
		t.Errorf("expected decoded qualified name, got %q", decision.ToolCall.QualifiedName)
	}
	if decision.ToolCall.ID != "toolu_1" {
		t.Errorf("expected call id preserved, got %q", decision.ToolCall.ID)
	}
	if decision.ToolCall.Arguments["query"] != "SELECT 1" {
		t.Errorf("expected arguments decoded, got %v", decision.ToolCall.Arguments)
	}
}

func TestDecisionFromAnthropicToolUseWins(t *testing.T) {
	// Text alongside a tool call: the tool call wins.
	resp := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			makeAnthropicBlock(t, `{"type":"text","text":"Let me check"}`),
			makeAnthropicBlock(t, `{"type":"tool_use","id":"toolu_2","name":"files__read_file","input":{"path":"a.txt"}}`),
		},
	}

	decision, err := decisionFromAnthropic(resp)
	if err != nil {
		t.Fatalf("decisionFromAnthropic failed: %v", err)
	}
	if decision.ToolCall == nil {
		t.Fatal("expected tool call to win over text")
	}
}

func TestDecisionFromAnthropicEmpty(t *testing.T) {
	_, err := decisionFromAnthropic(&anthropic.Message{})
	if !errors.Is(err, ErrAmbiguousModelResponse) {
		t.Errorf("expected ErrAmbiguousModelResponse, got %v", err)
	}
}

func TestToOpenAIMessageToolResult(t *testing.T) {
	turn := &session.Turn{
		Role:    session.RoleTool,
		Content: "result data",
		ToolResult: &gateway.Result{
			CallID: "call_123",
			Status: gateway.StatusSuccess,
		},
	}

	msg := toOpenAIMessage(turn)

	if msg.OfTool == nil {
		t.Fatal("expected tool message")
	}
	if msg.OfTool.ToolCallID != "call_123" {
		t.Errorf("expected ToolCallID 'call_123', got %q", msg.OfTool.ToolCallID)
	}
}

func TestToOpenAIMessageAssistantToolCall(t *testing.T) {
	turn := &session.Turn{
		Role: session.RoleAssistant,
		ToolCall: &gateway.CallRequest{
			ID:            "call_1",
			QualifiedName: "mail.send_email",
			Arguments:     map[string]any{"recipient_id": "a@b.c"},
		},
	}

	msg := toOpenAIMessage(turn)

	if msg.OfAssistant == nil {
		t.Fatal("expected assistant message")
	}
	if len(msg.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(msg.OfAssistant.ToolCalls))
	}
	if msg.OfAssistant.ToolCalls[0].Function.Name != "mail__send_email" {
		t.Errorf("expected wire-encoded name, got %q", msg.OfAssistant.ToolCalls[0].Function.Name)
	}
}

func TestDecisionFromOpenAIText(t *testing.T) {
	decision, err := decisionFromOpenAI(openai.ChatCompletionMessage{Content: "done"})
	if err != nil {
		t.Fatalf("decisionFromOpenAI failed: %v", err)
	}
	if decision.FinalText != "done" {
		t.Errorf("expected final text, got %q", decision.FinalText)
	}
}

func TestDecisionFromOpenAIToolCall(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		ToolCalls: []openai.ChatCompletionMessageToolCall{
			{
				ID: "call_abc",
				Function: openai.ChatCompletionMessageToolCallFunction{
					Name:      "identity__create_user",
					Arguments: `{"user_name":"alice"}`,
				},
			},
		},
	}

	decision, err := decisionFromOpenAI(msg)
	if err != nil {
		t.Fatalf("decisionFromOpenAI failed: %v", err)
	}
	if decision.ToolCall == nil {
		t.Fatal("expected tool call")
	}
	if decision.ToolCall.QualifiedName != "identity.create_user" {
		t.Errorf("expected decoded qualified name, got %q", decision.ToolCall.QualifiedName)
	}
	if decision.ToolCall.Arguments["user_name"] != "alice" {
		t.Errorf("expected arguments decoded, got %v", decision.ToolCall.Arguments)
	}
}

func TestDecisionFromOpenAIEmpty(t *testing.T) {
	_, err := decisionFromOpenAI(openai.ChatCompletionMessage{})
	if !errors.Is(err, ErrAmbiguousModelResponse) {
		t.Errorf("expected ErrAmbiguousModelResponse, got %v", err)
	}
}
