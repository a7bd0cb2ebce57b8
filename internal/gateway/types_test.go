// ABOUTME: Tests for the dispatch wire types' JSON shape.
// ABOUTME: The HTTP API and the session store both round-trip these.

package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultJSONShape(t *testing.T) {
	res := Result{
		CallID:        "c1",
		QualifiedName: "storage.read_query",
		Status:        StatusFailure,
		Error:         &ErrorDetail{Code: CodeUnknownTool, Message: "no such tool"},
	}

	b, err := json.Marshal(res)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))
	assert.Equal(t, "c1", wire["call_id"])
	assert.Equal(t, "storage.read_query", wire["qualified_name"])
	assert.Equal(t, "failure", wire["status"])
	assert.NotContains(t, wire, "payload")

	errObj, ok := wire["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unknown_tool", errObj["code"])
	assert.Equal(t, "no such tool", errObj["message"])
}

func TestResultRoundTrip(t *testing.T) {
	in := Result{
		CallID:        "c2",
		QualifiedName: "files.read_file",
		Status:        StatusSuccess,
		Payload:       json.RawMessage(`{"content":"hi"}`),
	}

	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Result
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.CallID, out.CallID)
	assert.Equal(t, in.Status, out.Status)
	assert.JSONEq(t, string(in.Payload), string(out.Payload))
	assert.Nil(t, out.Error)
}

func TestCallRequestJSONShape(t *testing.T) {
	var req CallRequest
	require.NoError(t, json.Unmarshal(
		[]byte(`{"id":"c3","qualified_name":"mail.send_email","arguments":{"recipient_id":"a@b.c"}}`), &req))
	assert.Equal(t, "c3", req.ID)
	assert.Equal(t, "mail.send_email", req.QualifiedName)
	assert.Equal(t, "a@b.c", req.Arguments["recipient_id"])
}
