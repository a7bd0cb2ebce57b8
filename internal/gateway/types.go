// ABOUTME: Wire types for tool dispatch: requests, results, and error codes.
// ABOUTME: Failures travel inside results so they cross the HTTP and model boundaries as data.

package gateway

import "encoding/json"

// CallRequest addresses one tool invocation by qualified name.
type CallRequest struct {
	ID            string         `json:"id"`
	QualifiedName string         `json:"qualified_name"`
	Arguments     map[string]any `json:"arguments,omitempty"`
}

// Status classifies a Result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Error codes carried in failure results. They name what went wrong, not
// where: callers decide retry behavior from the code plus the tool's
// idempotency flag.
const (
	CodeUnknownTool         = "unknown_tool"
	CodeProviderUnavailable = "provider_unavailable"
	CodeInvalidArguments    = "invalid_arguments"
	CodeTimeout             = "timeout"
	CodeToolError           = "tool_error"
)

// ErrorDetail describes a failed call.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of exactly one CallRequest. Exactly one of Payload
// (on success) or Error (on failure) is set.
type Result struct {
	CallID        string          `json:"call_id"`
	QualifiedName string          `json:"qualified_name"`
	Status        Status          `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         *ErrorDetail    `json:"error,omitempty"`
}

// failure builds a failure Result for a request.
func failure(req CallRequest, code, message string) Result {
	return Result{
		CallID:        req.ID,
		QualifiedName: req.QualifiedName,
		Status:        StatusFailure,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}
