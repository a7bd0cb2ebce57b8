// ABOUTME: Tests for the gateway's HTTP API.
// ABOUTME: Failure results must come back as 200s with error details in the body.

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyard/toolgate/internal/registry"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	router, _ := newTestRouter(t, 0)
	srv := httptest.NewServer(NewHTTPHandler(router, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestInvokeEndpoint(t *testing.T) {
	srv := newTestServer(t)

	body := `{"qualified_name":"test.echo","arguments":{"text":"hello"}}`
	resp, err := http.Post(srv.URL+"/v1/invoke", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "test.echo", result.QualifiedName)
}

func TestInvokeEndpointFailureIsStillOK(t *testing.T) {
	srv := newTestServer(t)

	body := `{"qualified_name":"nope.echo","arguments":{}}`
	resp, err := http.Post(srv.URL+"/v1/invoke", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Failures are valid results for the agent loop, not HTTP errors.
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, StatusFailure, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeUnknownTool, result.Error.Code)
}

func TestInvokeEndpointBadRequest(t *testing.T) {
	srv := newTestServer(t)

	t.Run("invalid json", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/invoke", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing qualified_name", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/invoke", "application/json", strings.NewReader(`{"arguments":{}}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCapabilitiesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/capabilities")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var caps []registry.Capability
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&caps))
	require.Len(t, caps, 3)
	assert.Equal(t, "test.echo", caps[0].QualifiedName)
}

func TestCapabilitiesPage(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/capabilities")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	var buf strings.Builder
	_, err = io.Copy(&buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "test.echo")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
