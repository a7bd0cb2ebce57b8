// ABOUTME: Routes tool calls to the owning provider resolved through the registry.
// ABOUTME: Maps resolution failures, timeouts, and handler errors into failure results.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/halcyard/toolgate/internal/registry"
)

// DefaultTimeout is the default per-call timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// Router dispatches a call addressed to <prefix>.<tool> to exactly one
// provider. It holds no conversation state and never retries: callers decide
// whether to retry based on the result.
type Router struct {
	registry *registry.Registry
	logger   *slog.Logger
	timeout  time.Duration
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry *registry.Registry
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: cfg.Registry,
		logger:   logger,
		timeout:  timeout,
	}
}

// Dispatch resolves the request's qualified name and forwards the arguments
// to the provider's local tool. Every failure mode is returned as a failure
// Result so the model can see and recover from it; Dispatch never panics and
// never returns an error to the caller.
func (r *Router) Dispatch(ctx context.Context, req CallRequest) Result {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	res, err := r.registry.Resolve(req.QualifiedName)
	if err != nil {
		r.logger.Debug("tool not found in registry",
			"tool", req.QualifiedName,
			"call_id", req.ID,
		)
		return failure(req, CodeUnknownTool, err.Error())
	}

	if !res.Available {
		r.logger.Warn("provider unavailable",
			"prefix", res.Prefix,
			"tool", req.QualifiedName,
			"call_id", req.ID,
		)
		return failure(req, CodeProviderUnavailable,
			fmt.Sprintf("provider %q is currently unavailable", res.Prefix))
	}

	// Shallow precheck only: the target schema's required fields must be
	// present. Deeper validation is the provider's responsibility.
	if missing := missingRequired(res.Tool.Descriptor.InputSchema, req.Arguments); len(missing) > 0 {
		return failure(req, CodeInvalidArguments,
			fmt.Sprintf("missing required arguments: %v", missing))
	}

	input, err := json.Marshal(req.Arguments)
	if err != nil {
		return failure(req, CodeInvalidArguments, fmt.Sprintf("encoding arguments: %v", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Info("→ dispatching",
		"tool", req.QualifiedName,
		"prefix", res.Prefix,
		"local_name", res.LocalName,
		"call_id", req.ID,
	)

	payload, err := res.Tool.Handler(callCtx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			r.logger.Warn("tool call timed out",
				"tool", req.QualifiedName,
				"call_id", req.ID,
				"timeout", r.timeout,
			)
			return failure(req, CodeTimeout,
				fmt.Sprintf("call to %s exceeded %s", req.QualifiedName, r.timeout))
		}
		r.logger.Warn("tool error",
			"tool", req.QualifiedName,
			"call_id", req.ID,
			"error", err,
		)
		return failure(req, CodeToolError, err.Error())
	}

	r.logger.Info("← provider responded",
		"tool", req.QualifiedName,
		"prefix", res.Prefix,
		"call_id", req.ID,
	)
	return Result{
		CallID:        req.ID,
		QualifiedName: req.QualifiedName,
		Status:        StatusSuccess,
		Payload:       payload,
	}
}

// Capabilities returns the merged, deterministic capability list.
func (r *Router) Capabilities() []registry.Capability {
	return r.registry.ListAll()
}

// missingRequired returns the schema's required field names absent from args.
func missingRequired(schema json.RawMessage, args map[string]any) []string {
	if len(schema) == 0 {
		return nil
	}
	var s struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil
	}
	var missing []string
	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
