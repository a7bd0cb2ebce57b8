// ABOUTME: Tests for the dispatch router's failure mapping and timeout handling.
// ABOUTME: Every failure mode must come back as a failure Result, never an error.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyard/toolgate/internal/provider"
	"github.com/halcyard/toolgate/internal/registry"
)

func newTestRouter(t *testing.T, timeout time.Duration) (*Router, *registry.Registry) {
	t.Helper()

	reg := registry.New(slog.Default())

	echo := &provider.Tool{
		Descriptor: provider.Descriptor{
			Name:        "echo",
			Description: "Echo the input back",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			Idempotent:  true,
		},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		},
	}
	boom := &provider.Tool{
		Descriptor: provider.Descriptor{
			Name:        "boom",
			Description: "Always fails",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Idempotent:  true,
		},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return nil, fmt.Errorf("database is locked")
		},
	}
	slow := &provider.Tool{
		Descriptor: provider.Descriptor{
			Name:        "slow",
			Description: "Blocks until the context expires",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Idempotent:  true,
		},
		Handler: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	require.NoError(t, reg.Register("test", &provider.Pack{
		ID:      "test",
		Version: "1.0.0",
		Tools:   []*provider.Tool{echo, boom, slow},
	}))

	router := NewRouter(RouterConfig{Registry: reg, Timeout: timeout})
	return router, reg
}

func TestDispatchSuccess(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	result := router.Dispatch(context.Background(), CallRequest{
		ID:            "call-1",
		QualifiedName: "test.echo",
		Arguments:     map[string]any{"text": "hello"},
	})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, "test.echo", result.QualifiedName)
	assert.Nil(t, result.Error)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(result.Payload, &payload))
	assert.Equal(t, "hello", payload["text"])
}

func TestDispatchAssignsCallID(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	result := router.Dispatch(context.Background(), CallRequest{
		QualifiedName: "test.echo",
		Arguments:     map[string]any{"text": "hi"},
	})

	assert.NotEmpty(t, result.CallID)
}

func TestDispatchUnknownTool(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	cases := []string{"nope.echo", "test.nope", "echo"}
	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			result := router.Dispatch(context.Background(), CallRequest{
				QualifiedName: name,
			})
			require.Equal(t, StatusFailure, result.Status)
			require.NotNil(t, result.Error)
			assert.Equal(t, CodeUnknownTool, result.Error.Code)
		})
	}
}

func TestDispatchProviderUnavailable(t *testing.T) {
	router, reg := newTestRouter(t, 0)
	reg.SetAvailable("test", false)

	result := router.Dispatch(context.Background(), CallRequest{
		QualifiedName: "test.echo",
		Arguments:     map[string]any{"text": "hello"},
	})

	require.Equal(t, StatusFailure, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeProviderUnavailable, result.Error.Code)

	// Re-dispatch after recovery succeeds with the same request shape.
	reg.SetAvailable("test", true)
	result = router.Dispatch(context.Background(), CallRequest{
		QualifiedName: "test.echo",
		Arguments:     map[string]any{"text": "hello"},
	})
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestDispatchMissingRequiredArguments(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	result := router.Dispatch(context.Background(), CallRequest{
		QualifiedName: "test.echo",
		Arguments:     map[string]any{"other": "field"},
	})

	require.Equal(t, StatusFailure, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeInvalidArguments, result.Error.Code)
	assert.Contains(t, result.Error.Message, "text")
}

func TestDispatchToolError(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	result := router.Dispatch(context.Background(), CallRequest{
		QualifiedName: "test.boom",
	})

	require.Equal(t, StatusFailure, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeToolError, result.Error.Code)
	assert.Contains(t, result.Error.Message, "database is locked")
}

func TestDispatchTimeout(t *testing.T) {
	router, _ := newTestRouter(t, 50*time.Millisecond)

	start := time.Now()
	result := router.Dispatch(context.Background(), CallRequest{
		QualifiedName: "test.slow",
	})
	elapsed := time.Since(start)

	require.Equal(t, StatusFailure, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeTimeout, result.Error.Code)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestCapabilities(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	caps := router.Capabilities()
	require.Len(t, caps, 3)
	assert.Equal(t, "test.echo", caps[0].QualifiedName)
	assert.Equal(t, "test.boom", caps[1].QualifiedName)
	assert.Equal(t, "test.slow", caps[2].QualifiedName)
}
