// ABOUTME: Thread-safe capability registry mapping name prefixes to tool providers.
// ABOUTME: Validates prefixes at mount time and resolves qualified names by longest-prefix match.

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/halcyard/toolgate/internal/provider"
)

// ErrDuplicatePrefix indicates a provider is already mounted under the prefix.
var ErrDuplicatePrefix = errors.New("duplicate prefix")

// ErrInvalidPrefix indicates the prefix is empty or collides with an existing
// prefix under the longest-prefix-match rule.
var ErrInvalidPrefix = errors.New("invalid prefix")

// ErrUnknownTool indicates no mounted provider owns the qualified name.
var ErrUnknownTool = errors.New("unknown tool")

// Capability is one entry in the merged, model-facing tool list.
type Capability struct {
	QualifiedName string          `json:"qualified_name"`
	Description   string          `json:"description"`
	InputSchema   json.RawMessage `json:"input_schema"`
	Idempotent    bool            `json:"idempotent"`
}

// Resolution is the outcome of resolving a qualified name: the owning
// provider, the tool under its original local name, and whether the provider
// is currently reachable.
type Resolution struct {
	Prefix    string
	LocalName string
	Pack      *provider.Pack
	Tool      *provider.Tool
	Available bool
}

type handle struct {
	prefix    string
	pack      *provider.Pack
	available bool
}

// Registry maintains the merged namespace of all mounted providers.
// It is built once at startup and read-mostly afterward.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*handle
	order   []string // registration order, for deterministic listings
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[string]*handle),
		logger:  logger,
	}
}

// Register mounts a provider pack under the given prefix.
// Returns ErrDuplicatePrefix if the prefix is already taken, or
// ErrInvalidPrefix if the prefix is empty, malformed, or nests with an
// existing prefix on a dot boundary. Registration errors are fatal to gateway
// startup; the caller must not continue half-registered.
func (r *Registry) Register(prefix string, pack *provider.Pack) error {
	if err := validatePrefix(prefix); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[prefix]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePrefix, prefix)
	}
	for existing := range r.handles {
		if strings.HasPrefix(prefix, existing+".") || strings.HasPrefix(existing, prefix+".") {
			return fmt.Errorf("%w: %q nests with registered prefix %q", ErrInvalidPrefix, prefix, existing)
		}
	}

	r.handles[prefix] = &handle{
		prefix:    prefix,
		pack:      pack,
		available: true,
	}
	r.order = append(r.order, prefix)

	r.logger.Info("provider mounted",
		"prefix", prefix,
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
		"total_providers", len(r.handles),
	)
	return nil
}

// Resolve maps a qualified name to exactly one mounted provider using the
// longest registered prefix that matches on a dot boundary.
// Returns ErrUnknownTool if no prefix matches or the provider does not declare
// the local tool name.
func (r *Registry) Resolve(qualifiedName string) (*Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *handle
	for _, h := range r.handles {
		if !strings.HasPrefix(qualifiedName, h.prefix+".") {
			continue
		}
		if best == nil || len(h.prefix) > len(best.prefix) {
			best = h
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, qualifiedName)
	}

	localName := qualifiedName[len(best.prefix)+1:]
	tool := best.pack.Tool(localName)
	if tool == nil {
		return nil, fmt.Errorf("%w: %q has no tool %q", ErrUnknownTool, best.prefix, localName)
	}

	return &Resolution{
		Prefix:    best.prefix,
		LocalName: localName,
		Pack:      best.pack,
		Tool:      tool,
		Available: best.available,
	}, nil
}

// SetAvailable marks a mounted provider reachable or unreachable. A provider
// disappearing at runtime degrades its prefix instead of corrupting the
// registry; unknown prefixes are ignored.
func (r *Registry) SetAvailable(prefix string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[prefix]
	if !ok {
		return
	}
	if h.available != available {
		h.available = available
		r.logger.Warn("provider availability changed", "prefix", prefix, "available", available)
	}
}

// ListAll merges every provider's declared tools with its prefix applied.
// Order is stable across calls: registration order, then declaration order,
// so model-facing tool lists are deterministic.
func (r *Registry) ListAll() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var caps []Capability
	for _, prefix := range r.order {
		h := r.handles[prefix]
		for _, t := range h.pack.Tools {
			caps = append(caps, Capability{
				QualifiedName: prefix + "." + t.Descriptor.Name,
				Description:   t.Descriptor.Description,
				InputSchema:   t.Descriptor.InputSchema,
				Idempotent:    t.Descriptor.Idempotent,
			})
		}
	}
	return caps
}

// Prefixes returns the registered prefixes in registration order.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// validatePrefix rejects prefixes that could make resolution ambiguous or
// that cannot appear in a qualified name.
func validatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPrefix)
	}
	if strings.HasPrefix(prefix, ".") || strings.HasSuffix(prefix, ".") || strings.Contains(prefix, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	for _, label := range strings.Split(prefix, ".") {
		if strings.ContainsAny(label, " \t\n") || label == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
		}
	}
	return nil
}
