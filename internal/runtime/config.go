// Package runtime wires the leaf components (event bus, session store,
// provider registry, tool registry/executor, compaction, sub-agent spawn,
// and the agent loop) into the public per-session API: session start/stop,
// prompt (fire-and-forget and synchronous), steer, abort, branching, save,
// and event subscription — plus the supervision subtree that makes each
// session independently restartable. A manager owns one mailbox-serialized
// Session per session id.
package runtime

import "time"

// ModelConfig selects which provider and model a session's turns use.
type ModelConfig struct {
	ProviderTag   string `json:"provider_tag"`
	ModelID       string `json:"model_id"`
	ThinkingLevel string `json:"thinking_level,omitempty"`
}

// FeatureToggle is the common on/off shape for each optional feature
// substruct in SessionConfig.Features.
type FeatureToggle struct {
	Enabled bool `json:"enabled"`
}

// FeaturesConfig enumerates the optional subsystems a session may enable,
// Only SubAgents and MultiAgent are wired by this core; Context/Skills/
// MCP/Debug are the attachment points external collaborators use and have
// no implementation in this package.
type FeaturesConfig struct {
	SubAgents  FeatureToggle `json:"sub_agents"`
	MultiAgent FeatureToggle `json:"multi_agent"`
	Context    FeatureToggle `json:"context"`
	Skills     FeatureToggle `json:"skills"`
	MCP        FeatureToggle `json:"mcp"`
	Debug      FeatureToggle `json:"debug"`
}

// SessionConfig is the argument to StartSession.
type SessionConfig struct {
	WorkingDir          string
	Model               ModelConfig
	SystemPrompt        string
	Tools               []string // names resolved against the manager's shared tool registry
	Provider            string   // provider registry key; defaults to Model.ProviderTag
	SessionStoreEnabled bool
	Features            FeaturesConfig
	Shell                string
	DataDir              string

	// ContextWindow and CompactionThreshold configure auto-compaction.
	// A zero ContextWindow disables auto-compaction for this
	// session.
	ContextWindow       int
	CompactionThreshold float64
	KeepRecentMessages  int

	MaxIterations     int
	StreamIdleTimeout time.Duration

	// MultiAgentManifestPath and AgentID configure Features.MultiAgent: when
	// set, a handoff tool is registered letting this session's agent id
	// transfer a task to a peer named in the manifest at that path.
	MultiAgentManifestPath string
	AgentID                string
}
