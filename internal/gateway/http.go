// ABOUTME: HTTP surface for the gateway: JSON invoke/capability endpoints.
// ABOUTME: Also serves a human-facing capability page rendered from markdown.

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"
)

const capabilitiesPageShell = `<!DOCTYPE html>
<html>
<head><title>toolgate capabilities</title></head>
<body>%s</body>
</html>
`

// NewHTTPHandler returns the gateway's HTTP API.
//
// Routes:
//
//	POST /v1/invoke        - dispatch one tool call
//	GET  /v1/capabilities  - merged capability list as JSON
//	GET  /capabilities     - human-facing capability page
//	GET  /healthz          - liveness probe
func NewHTTPHandler(router *Router, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpAPI{router: router, logger: logger.With("component", "http")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invoke", h.handleInvoke)
	mux.HandleFunc("GET /v1/capabilities", h.handleCapabilities)
	mux.HandleFunc("GET /capabilities", h.handleCapabilitiesPage)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

type httpAPI struct {
	router *Router
	logger *slog.Logger
}

// invokeRequest is the JSON body of POST /v1/invoke.
type invokeRequest struct {
	QualifiedName string         `json:"qualified_name"`
	Arguments     map[string]any `json:"arguments"`
}

func (h *httpAPI) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.QualifiedName == "" {
		http.Error(w, "qualified_name is required", http.StatusBadRequest)
		return
	}

	result := h.router.Dispatch(r.Context(), CallRequest{
		QualifiedName: req.QualifiedName,
		Arguments:     req.Arguments,
	})

	// Failures are valid results, not HTTP errors: the caller (an agent
	// loop) must be able to read them back.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Error("failed to encode invoke result", "error", err)
	}
}

func (h *httpAPI) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps := h.router.Capabilities()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(caps); err != nil {
		h.logger.Error("failed to encode capabilities", "error", err)
	}
}

// handleCapabilitiesPage renders the capability list as HTML for humans.
// Tool descriptions are treated as markdown.
func (h *httpAPI) handleCapabilitiesPage(w http.ResponseWriter, r *http.Request) {
	var md bytes.Buffer
	md.WriteString("# Capabilities\n\n")
	for _, c := range h.router.Capabilities() {
		fmt.Fprintf(&md, "## `%s`\n\n%s\n\n", c.QualifiedName, c.Description)
		if !c.Idempotent {
			md.WriteString("**Not safe to retry automatically.**\n\n")
		}
		if len(c.InputSchema) > 0 {
			fmt.Fprintf(&md, "```json\n%s\n```\n\n", c.InputSchema)
		}
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &htmlBuf); err != nil {
		h.logger.Error("failed to convert capability markdown", "error", err)
		http.Error(w, "failed to render capabilities", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, capabilitiesPageShell, template.HTML(htmlBuf.String()))
}

func (h *httpAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
