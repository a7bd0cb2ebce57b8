// ABOUTME: ModelAdapter backed by the Anthropic Messages API.
// ABOUTME: Maps session turns to Anthropic message blocks and back to a Decision.

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/halcyard/toolgate/internal/gateway"
	"github.com/halcyard/toolgate/internal/registry"
	"github.com/halcyard/toolgate/internal/session"
)

// AnthropicAdapter implements ModelAdapter using the Anthropic SDK.
type AnthropicAdapter struct {
	client       *anthropic.Client
	model        string
	systemPrompt string
}

// NewAnthropicAdapter creates an Anthropic-backed adapter.
func NewAnthropicAdapter(apiKey, model, systemPrompt string) *AnthropicAdapter {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAdapter{client: &client, model: model, systemPrompt: systemPrompt}
}

func (a *AnthropicAdapter) Send(ctx context.Context, history []*session.Turn, tools []registry.Capability) (*Decision, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  toAnthropicMessages(history),
		MaxTokens: 4096,
	}
	if a.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: a.systemPrompt},
		}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	return decisionFromAnthropic(resp)
}

// toAnthropicTools converts capabilities to Anthropic tool params. Qualified
// names are wire-encoded because the API rejects dots in tool names.
func toAnthropicTools(tools []registry.Capability) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		props, required := splitSchema(t.InputSchema)
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        wireName(t.QualifiedName),
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		}
	}
	return out
}

// splitSchema pulls properties and required out of a JSON-schema document.
func splitSchema(schema json.RawMessage) (map[string]interface{}, []string) {
	var parsed struct {
		Properties map[string]interface{} `json:"properties"`
		Required   []string               `json:"required"`
	}
	_ = json.Unmarshal(schema, &parsed)
	if parsed.Properties == nil {
		parsed.Properties = map[string]interface{}{}
	}
	return parsed.Properties, parsed.Required
}

// toAnthropicMessages converts turns to Anthropic message params.
//
// Anthropic's API requires:
//   - Only "user" and "assistant" roles (no "tool" role)
//   - Tool results are sent as user messages with ToolResultBlockParam content
//   - Assistant tool-call turns use ToolUseBlockParam content
func toAnthropicMessages(history []*session.Turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, t := range history {
		switch t.Role {
		case session.RoleUser:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewTextBlock(t.Content),
			))
		case session.RoleTool:
			callID := ""
			isError := false
			if t.ToolResult != nil {
				callID = t.ToolResult.CallID
				isError = t.ToolResult.Status == gateway.StatusFailure
			}
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(callID, t.Content, isError),
			))
		case session.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
			if t.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Content))
			}
			if t.ToolCall != nil {
				input, err := json.Marshal(t.ToolCall.Arguments)
				if err != nil || t.ToolCall.Arguments == nil {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    t.ToolCall.ID,
						Name:  wireName(t.ToolCall.QualifiedName),
						Input: json.RawMessage(input),
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out
}

// decisionFromAnthropic maps a response to exactly one decision. A response
// with tool_use blocks is a tool call; the first block wins and any trailing
// text rides along as commentary we drop. Text-only responses are final text.
func decisionFromAnthropic(resp *anthropic.Message) (*Decision, error) {
	var text string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if text != "" {
				text += "\n"
			}
			text += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			var args map[string]any
			if len(tu.Input) > 0 {
				if err := json.Unmarshal(tu.Input, &args); err != nil {
					return nil, fmt.Errorf("%w: undecodable tool input: %v", ErrAmbiguousModelResponse, err)
				}
			}
			return &Decision{ToolCall: &gateway.CallRequest{
				ID:            tu.ID,
				QualifiedName: qualifiedName(tu.Name),
				Arguments:     args,
			}}, nil
		}
	}
	if text == "" {
		return nil, ErrAmbiguousModelResponse
	}
	return &Decision{FinalText: text}, nil
}
