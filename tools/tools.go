// Package tools implements the tool registry and plugin loader (C3): a
// process-global, compile-time registry of built-in utility tools, each
// exposing a small set of named capabilities invoked through one uniform
// execute contract.
package tools

import (
	"context"
	"sync"

	"github.com/aethara/fabric-gateway/fabricerr"
)

// ID is a tool identifier, e.g. "math.calculate" or "io".
type ID string

// Args is the input bag passed to a capability.
type Args map[string]any

// Result is the output bag returned by a capability on success.
type Result map[string]any

// Tool is a value implementing a small set of named capabilities over an
// optional configuration bag captured at construction. There is no shared
// base state beyond that configuration.
type Tool interface {
	ID() ID
	Capabilities() []string
	Execute(ctx context.Context, capability string, args Args) (Result, error)
}

// Info describes a registered tool for discovery purposes.
type Info struct {
	ID           ID
	Capabilities []string
	Doc          string
}

// Factory constructs a Tool instance from a configuration bag. Factories are
// invoked at most once per tool id; the resulting instance is cached.
type Factory func(config map[string]any) Tool

type registration struct {
	factory Factory
	doc     string
}

var (
	mu            sync.Mutex
	registrations = make(map[ID]registration)
)

// Register adds a tool factory to the process-global registry. Intended to
// be called from a builtin package's init(), mirroring a compile-time
// equivalent of the Python original's directory-scan plugin discovery:
// only tools actually imported for side effect end up registered.
func Register(id ID, doc string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registrations[id] = registration{factory: factory, doc: doc}
}

// Registry is the runtime view over the registered tools: it lazily
// constructs and caches one instance per tool id.
type Registry struct {
	config map[ID]map[string]any

	mu        sync.Mutex
	instances map[ID]Tool
}

// NewRegistry builds a Registry. config supplies per-tool-id configuration
// bags passed to each tool's factory on first use.
func NewRegistry(config map[ID]map[string]any) *Registry {
	return &Registry{
		config:    config,
		instances: make(map[ID]Tool),
	}
}

// List returns every registered tool id.
func (r *Registry) List() []ID {
	mu.Lock()
	defer mu.Unlock()
	ids := make([]ID, 0, len(registrations))
	for id := range registrations {
		ids = append(ids, id)
	}
	return ids
}

// Info returns metadata for tool_id, or nil if it is not registered.
func (r *Registry) Info(toolID ID) *Info {
	mu.Lock()
	reg, ok := registrations[toolID]
	mu.Unlock()
	if !ok {
		return nil
	}
	inst := r.Instance(toolID)
	return &Info{ID: toolID, Capabilities: inst.Capabilities(), Doc: reg.doc}
}

// Instance returns the lazily constructed, singleton-per-id Tool for
// toolID, or nil if toolID is not registered.
func (r *Registry) Instance(toolID ID) Tool {
	mu.Lock()
	reg, registered := registrations[toolID]
	mu.Unlock()
	if !registered {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[toolID]; ok {
		return inst
	}
	inst := reg.factory(r.config[toolID])
	r.instances[toolID] = inst
	return inst
}

// Execute dispatches capability on toolID. Unknown tool id yields
// TOOL_NOT_FOUND; unknown capability yields CAPABILITY_NOT_FOUND;
// capability implementation panics are recovered and wrapped as
// EXECUTION_ERROR, preserving the panic's message.
func (r *Registry) Execute(ctx context.Context, toolID ID, capability string, args Args) (result Result, err error) {
	inst := r.Instance(toolID)
	if inst == nil {
		return nil, fabricerr.Newf(fabricerr.CodeToolNotFound, "tool not found: %s", toolID)
	}

	known := false
	for _, c := range inst.Capabilities() {
		if c == capability {
			known = true
			break
		}
	}
	if !known {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "capability not found: %s.%s", toolID, capability)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fabricerr.Newf(fabricerr.CodeExecutionError, "tool panic: %v", p)
		}
	}()

	result, err = inst.Execute(ctx, capability, args)
	if err != nil {
		if _, ok := fabricerr.As(err); ok {
			return nil, err
		}
		return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "%s", err.Error())
	}
	return result, nil
}

// arg helpers shared by builtin tools.

// String extracts a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fabricerr.Newf(fabricerr.CodeBadInput, "missing argument: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fabricerr.Newf(fabricerr.CodeBadInput, "argument %s must be a string", key)
	}
	return s, nil
}

// StringOr extracts an optional string argument, defaulting when absent.
func (a Args) StringOr(key, def string) string {
	v, ok := a[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// Float64 extracts a required numeric argument.
func (a Args) Float64(key string) (float64, error) {
	v, ok := a[key]
	if !ok {
		return 0, fabricerr.Newf(fabricerr.CodeBadInput, "missing argument: %s", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fabricerr.Newf(fabricerr.CodeBadInput, "argument %s must be a number", key)
	}
}

// Float64Slice extracts a required []float64 argument from a []any.
func (a Args) Float64Slice(key string) ([]float64, error) {
	v, ok := a[key]
	if !ok {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "missing argument: %s", key)
	}
	raw, ok := v.([]any)
	if !ok {
		if fs, ok := v.([]float64); ok {
			return fs, nil
		}
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "argument %s must be an array of numbers", key)
	}
	out := make([]float64, len(raw))
	for i, e := range raw {
		n, ok := e.(float64)
		if !ok {
			return nil, fabricerr.Newf(fabricerr.CodeBadInput, "argument %s[%d] must be a number", key, i)
		}
		out[i] = n
	}
	return out, nil
}

// StringSlice extracts an optional []string argument from a []any,
// returning nil when absent.
func (a Args) StringSlice(key string) []string {
	v, ok := a[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BoolOr extracts an optional bool argument, defaulting when absent.
func (a Args) BoolOr(key string, def bool) bool {
	v, ok := a[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// IntOr extracts an optional integer argument, defaulting when absent.
func (a Args) IntOr(key string, def int) int {
	v, ok := a[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}
