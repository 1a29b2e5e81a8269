// Package manifest defines the wire-facing domain types shared by the
// agent registry, dispatch core, and runtime adapters: capability
// descriptors, agent manifests, and tool descriptors.
package manifest

import "time"

// TrustTier ranks how much a caller should trust an agent or tool,
// ordered least to most permissive: local < org < public.
type TrustTier string

const (
	TrustLocal  TrustTier = "local"
	TrustOrg    TrustTier = "org"
	TrustPublic TrustTier = "public"
)

// Rank returns the tier's position in the local < org < public ordering,
// used to break ties in route preview and search fallback.
func (t TrustTier) Rank() int {
	switch t {
	case TrustLocal:
		return 0
	case TrustOrg:
		return 1
	case TrustPublic:
		return 2
	default:
		return 3
	}
}

// Status is an agent's last-observed health state.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusDegraded Status = "degraded"
	StatusUnknown  Status = "unknown"
)

// Capability describes one invocable operation exposed by an agent or tool.
// Name is unique within the owning agent or tool.
type Capability struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Streaming    bool           `json:"streaming,omitempty"`
	Modalities   []string       `json:"modalities,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
	MaxTimeoutMS int64          `json:"max_timeout_ms,omitempty"`
}

// Endpoint names the transport and address an adapter uses to reach an
// agent.
type Endpoint struct {
	Transport string `json:"transport"`
	URI       string `json:"uri"`
}

// Agent is the full registration record for a remote agent. AgentID is
// globally unique. Status and LastSeen are the only fields mutated
// in place; re-registration replaces every other field wholesale.
type Agent struct {
	AgentID      string       `json:"agent_id"`
	DisplayName  string       `json:"display_name"`
	Version      string       `json:"version"`
	Description  string       `json:"description,omitempty"`
	RuntimeKind  string       `json:"runtime_kind"`
	Endpoint     Endpoint     `json:"endpoint"`
	Capabilities []Capability `json:"capabilities"`
	Tags         []string     `json:"tags,omitempty"`
	TrustTier    TrustTier    `json:"trust_tier"`
	Status       Status       `json:"status"`
	LastSeen     *time.Time   `json:"last_seen,omitempty"`
}

// HasCapability reports whether name is a capability of this agent.
func (a *Agent) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Capability looks up a capability by name, returning nil if absent.
func (a *Agent) Capability(name string) *Capability {
	for i := range a.Capabilities {
		if a.Capabilities[i].Name == name {
			return &a.Capabilities[i]
		}
	}
	return nil
}

// HasTag reports whether tag is present on the agent.
func (a *Agent) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Provider identifies the origin of a tool descriptor.
type Provider string

const (
	ProviderBuiltin  Provider = "builtin"
	ProviderAgent    Provider = "agent"
	ProviderExternal Provider = "external"
)

// ToolDescriptor describes a registered tool for discovery purposes,
// distinct from tools.Info in that it carries the full wire shape
// (trust tier, provider, enabled flag, config) rather than just the
// capability list used internally by the tool registry.
type ToolDescriptor struct {
	ToolID       string         `json:"tool_id"`
	DisplayName  string         `json:"display_name"`
	Provider     Provider       `json:"provider"`
	Category     string         `json:"category"`
	TrustTier    TrustTier      `json:"trust_tier"`
	Enabled      bool           `json:"enabled"`
	Capabilities []Capability   `json:"capabilities"`
	Config       map[string]any `json:"config,omitempty"`
}

// ListFilter narrows an agent registry List query. Empty fields are
// unconstrained; non-empty fields combine with AND semantics.
type ListFilter struct {
	Capability string
	Tag        string
	Status     Status
}
