// ABOUTME: Tests for the remote gateway client.
// ABOUTME: Transport failures must become failure results, not errors.

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyard/toolgate/internal/gateway"
	"github.com/halcyard/toolgate/internal/registry"
)

func newFakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invoke", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QualifiedName string `json:"qualified_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(gateway.Result{
			CallID:        "srv-1",
			QualifiedName: req.QualifiedName,
			Status:        gateway.StatusSuccess,
			Payload:       json.RawMessage(`{"ok":true}`),
		})
	})
	mux.HandleFunc("GET /v1/capabilities", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]registry.Capability{
			{QualifiedName: "storage.read_query", Description: "Run a SELECT"},
		})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatchRemote(t *testing.T) {
	srv := newFakeGateway(t)
	c := New(srv.URL, nil)

	result := c.Dispatch(context.Background(), gateway.CallRequest{
		QualifiedName: "storage.read_query",
		Arguments:     map[string]any{"query": "SELECT 1"},
	})

	assert.Equal(t, gateway.StatusSuccess, result.Status)
	assert.Equal(t, "storage.read_query", result.QualifiedName)
}

func TestDispatchUnreachableGateway(t *testing.T) {
	c := New("http://127.0.0.1:1", nil)

	result := c.Dispatch(context.Background(), gateway.CallRequest{
		QualifiedName: "storage.read_query",
	})

	require.Equal(t, gateway.StatusFailure, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, gateway.CodeProviderUnavailable, result.Error.Code)
	assert.NotEmpty(t, result.CallID)
}

func TestCapabilitiesRemote(t *testing.T) {
	srv := newFakeGateway(t)
	c := New(srv.URL, nil)

	caps := c.Capabilities()
	require.Len(t, caps, 1)
	assert.Equal(t, "storage.read_query", caps[0].QualifiedName)
}

func TestCapabilitiesUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", nil)
	assert.Empty(t, c.Capabilities())
}

func TestHealthy(t *testing.T) {
	srv := newFakeGateway(t)

	assert.True(t, New(srv.URL, nil).Healthy(context.Background()))
	assert.False(t, New("http://127.0.0.1:1", nil).Healthy(context.Background()))
}
