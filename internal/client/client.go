// ABOUTME: HTTP client for a remote toolgate instance.
// ABOUTME: Satisfies the agent loop's Dispatcher so chat can run against a running gateway.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyard/toolgate/internal/gateway"
	"github.com/halcyard/toolgate/internal/registry"
)

// Client talks to a toolgate HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With("component", "client"),
	}
}

type invokeRequest struct {
	QualifiedName string         `json:"qualified_name"`
	Arguments     map[string]any `json:"arguments"`
}

// Dispatch forwards one tool call to the remote gateway. Transport failures
// become provider_unavailable results so the caller sees the same
// errors-as-data shape as in-process dispatch.
func (c *Client) Dispatch(ctx context.Context, req gateway.CallRequest) gateway.Result {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	body, err := json.Marshal(invokeRequest{
		QualifiedName: req.QualifiedName,
		Arguments:     req.Arguments,
	})
	if err != nil {
		return c.unavailable(req, fmt.Sprintf("encoding request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return c.unavailable(req, fmt.Sprintf("building request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("invoke request failed", "tool", req.QualifiedName, "error", err)
		return c.unavailable(req, fmt.Sprintf("gateway unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.unavailable(req, fmt.Sprintf("gateway returned status %d", resp.StatusCode))
	}

	var result gateway.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return c.unavailable(req, fmt.Sprintf("decoding result: %v", err))
	}
	return result
}

// Capabilities fetches the merged capability list. An unreachable gateway
// yields an empty list; the next dispatch will surface the failure.
func (c *Client) Capabilities() []registry.Capability {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/capabilities", nil)
	if err != nil {
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("capabilities request failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	var caps []registry.Capability
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		c.logger.Warn("decoding capabilities failed", "error", err)
		return nil
	}
	return caps
}

// Healthy reports whether the gateway responds on its liveness endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) unavailable(req gateway.CallRequest, message string) gateway.Result {
	return gateway.Result{
		CallID:        req.ID,
		QualifiedName: req.QualifiedName,
		Status:        gateway.StatusFailure,
		Error: &gateway.ErrorDetail{
			Code:    gateway.CodeProviderUnavailable,
			Message: message,
		},
	}
}
