// ABOUTME: ModelAdapter backed by the OpenAI chat completions API.
// ABOUTME: Works against any OpenAI-compatible endpoint via a configurable base URL.

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/halcyard/toolgate/internal/gateway"
	"github.com/halcyard/toolgate/internal/registry"
	"github.com/halcyard/toolgate/internal/session"
)

// OpenAIAdapter implements ModelAdapter using the OpenAI SDK. A non-empty
// baseURL points it at any OpenAI-compatible server (Ollama, vLLM, Groq).
type OpenAIAdapter struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

// NewOpenAIAdapter creates an OpenAI-backed adapter.
func NewOpenAIAdapter(apiKey, baseURL, model, systemPrompt string) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIAdapter{client: &client, model: model, systemPrompt: systemPrompt}
}

func (a *OpenAIAdapter) Send(ctx context.Context, history []*session.Turn, tools []registry.Capability) (*Decision, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if a.systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(a.systemPrompt))
	}
	for _, t := range history {
		msgs = append(msgs, toOpenAIMessage(t))
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(a.model),
		Messages: msgs,
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrAmbiguousModelResponse
	}
	return decisionFromOpenAI(resp.Choices[0].Message)
}

func toOpenAITools(tools []registry.Capability) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		var params map[string]interface{}
		_ = json.Unmarshal(t.InputSchema, &params)
		if params == nil {
			params = map[string]interface{}{"type": "object"}
		}
		out[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        wireName(t.QualifiedName),
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(params),
			},
		}
	}
	return out
}

func toOpenAIMessage(t *session.Turn) openai.ChatCompletionMessageParamUnion {
	switch t.Role {
	case session.RoleTool:
		callID := ""
		if t.ToolResult != nil {
			callID = t.ToolResult.CallID
		}
		return openai.ToolMessage(t.Content, callID)
	case session.RoleUser:
		return openai.UserMessage(t.Content)
	default:
		asst := openai.ChatCompletionAssistantMessageParam{}
		if t.Content != "" {
			asst.Content.OfString = openai.String(t.Content)
		}
		if t.ToolCall != nil {
			args, err := json.Marshal(t.ToolCall.Arguments)
			if err != nil || t.ToolCall.Arguments == nil {
				args = []byte("{}")
			}
			asst.ToolCalls = []openai.ChatCompletionMessageToolCallParam{{
				ID: t.ToolCall.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      wireName(t.ToolCall.QualifiedName),
					Arguments: string(args),
				},
			}}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	}
}

// decisionFromOpenAI maps a completion message to exactly one decision.
// The first tool call wins when several are returned.
func decisionFromOpenAI(m openai.ChatCompletionMessage) (*Decision, error) {
	if len(m.ToolCalls) > 0 {
		tc := m.ToolCalls[0]
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("%w: undecodable tool arguments: %v", ErrAmbiguousModelResponse, err)
			}
		}
		return &Decision{ToolCall: &gateway.CallRequest{
			ID:            tc.ID,
			QualifiedName: qualifiedName(tc.Function.Name),
			Arguments:     args,
		}}, nil
	}
	if m.Content == "" {
		return nil, ErrAmbiguousModelResponse
	}
	return &Decision{FinalText: m.Content}, nil
}
