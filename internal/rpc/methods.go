package rpc

// Param/result shapes for each JSON-RPC method. Kept as plain structs
// rather than map[string]any so json.Unmarshal does the validation work and
// a malformed call surfaces as CodeInvalidParams.

type modelParams struct {
	ProviderTag   string `json:"provider_tag"`
	ModelID       string `json:"model_id"`
	ThinkingLevel string `json:"thinking_level,omitempty"`
}

type featureToggleParams struct {
	Enabled bool `json:"enabled"`
}

type featuresParams struct {
	SubAgents featureToggleParams `json:"sub_agents"`
	Context   featureToggleParams `json:"context"`
	Skills    featureToggleParams `json:"skills"`
	MCP       featureToggleParams `json:"mcp"`
	Debug     featureToggleParams `json:"debug"`
}

type sessionStartParams struct {
	SessionID           string         `json:"session_id"`
	WorkingDir          string         `json:"working_dir,omitempty"`
	Model               modelParams    `json:"model"`
	SystemPrompt        string         `json:"system_prompt,omitempty"`
	Tools               []string       `json:"tools,omitempty"`
	Provider            string         `json:"provider,omitempty"`
	SessionStoreEnabled bool           `json:"session_store_enabled,omitempty"`
	Features            featuresParams `json:"features,omitempty"`
	ContextWindow       int            `json:"context_window,omitempty"`
	CompactionThreshold float64        `json:"compaction_threshold,omitempty"`
	KeepRecentMessages  int            `json:"keep_recent_messages,omitempty"`
	MaxIterations       int            `json:"max_iterations,omitempty"`
}

type sessionStartResult struct {
	SessionID string `json:"session_id"`
	Handle    string `json:"handle"`
}

type handleParams struct {
	Handle string `json:"handle"`
}

type sessionBranchParams struct {
	Handle    string `json:"handle"`
	MessageID string `json:"message_id"`
}

type sessionCompactResult struct {
	Compacted     bool   `json:"compacted"`
	ReplacedCount int    `json:"replaced_count"`
	SummaryID     string `json:"summary_id,omitempty"`
}

type sessionListResult struct {
	SessionIDs []string `json:"session_ids"`
}

type agentPromptParams struct {
	Handle    string `json:"handle"`
	Text      string `json:"text"`
	Sync      bool   `json:"sync,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

type agentPromptResult struct {
	Text string `json:"text,omitempty"`
}

type agentSteerParams struct {
	Handle string `json:"handle"`
	Text   string `json:"text"`
}

type agentStateResult struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Model     string `json:"model"`
}

type modelSetParams struct {
	Handle string `json:"handle"`
	Model  string `json:"model"`
}

type modelsListResult struct {
	Providers []string `json:"providers"`
}
