package subagent

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentDefinition describes one named agent a manifest makes available for
// handoff or swarm delegation, the configuration layer behind HandoffTool.
type AgentDefinition struct {
	ID                 string           `yaml:"id"`
	Name               string           `yaml:"name"`
	Description        string           `yaml:"description"`
	SystemPrompt       string           `yaml:"system_prompt"`
	Model              string           `yaml:"model"`
	Provider           string           `yaml:"provider"`
	Tools              []string         `yaml:"tools"`
	HandoffRules       []HandoffRule    `yaml:"handoff_rules"`
	CanReceiveHandoffs bool             `yaml:"can_receive_handoffs"`
	MaxIterations      int              `yaml:"max_iterations"`
}

// HandoffRule names a target agent and the triggers that route to it.
type HandoffRule struct {
	TargetAgentID  string           `yaml:"target_agent_id"`
	Triggers       []RoutingTrigger `yaml:"triggers"`
	Priority       int              `yaml:"priority"`
	ReturnToSender bool             `yaml:"return_to_sender"`
	Message        string           `yaml:"message"`
}

// TriggerType is the kind of condition a RoutingTrigger evaluates.
type TriggerType string

const (
	TriggerKeyword  TriggerType = "keyword"
	TriggerPattern  TriggerType = "pattern"
	TriggerAlways   TriggerType = "always"
	TriggerFallback TriggerType = "fallback"
)

// RoutingTrigger is one condition a HandoffRule checks against the
// triggering user message.
type RoutingTrigger struct {
	Type  TriggerType `yaml:"type"`
	Value string      `yaml:"value"`
}

// MultiAgentConfig is the top-level manifest: the full roster of agents
// available for handoff plus a few cross-cutting defaults.
type MultiAgentConfig struct {
	Agents             []AgentDefinition `yaml:"agents"`
	DefaultAgentID     string            `yaml:"default_agent_id"`
	MaxHandoffDepth    int               `yaml:"max_handoff_depth"`
	EnablePeerHandoffs bool              `yaml:"enable_peer_handoffs"`
}

// LoadConfig reads a multi-agent manifest from a YAML file on disk.
func LoadConfig(path string) (*MultiAgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("subagent: read manifest: %w", err)
	}
	return ParseConfigYAML(data)
}

// ParseConfigYAML parses a manifest from YAML bytes and applies defaults.
func ParseConfigYAML(data []byte) (*MultiAgentConfig, error) {
	var cfg MultiAgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("subagent: parse manifest: %w", err)
	}
	if cfg.MaxHandoffDepth <= 0 {
		cfg.MaxHandoffDepth = DefaultMaxDepth
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].ID == "" {
			return nil, fmt.Errorf("subagent: agent at index %d has no id", i)
		}
		if cfg.Agents[i].Name == "" {
			cfg.Agents[i].Name = cfg.Agents[i].ID
		}
	}
	return &cfg, nil
}

// SaveConfig writes cfg back out as YAML, the inverse of LoadConfig.
func SaveConfig(cfg *MultiAgentConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("subagent: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("subagent: write manifest: %w", err)
	}
	return nil
}

// ValidateConfig checks referential integrity: every handoff target and the
// default agent ID must name an agent actually present in cfg.
func ValidateConfig(cfg *MultiAgentConfig) []error {
	if cfg == nil {
		return []error{fmt.Errorf("subagent: manifest is nil")}
	}
	var errs []error
	ids := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("subagent: agent has empty id"))
			continue
		}
		if ids[a.ID] {
			errs = append(errs, fmt.Errorf("subagent: duplicate agent id %q", a.ID))
		}
		ids[a.ID] = true
	}
	if cfg.DefaultAgentID != "" && !ids[cfg.DefaultAgentID] {
		errs = append(errs, fmt.Errorf("subagent: default agent %q not found", cfg.DefaultAgentID))
	}
	for _, a := range cfg.Agents {
		for _, rule := range a.HandoffRules {
			if rule.TargetAgentID != "" && !ids[rule.TargetAgentID] {
				errs = append(errs, fmt.Errorf("subagent: agent %q: handoff target %q not found", a.ID, rule.TargetAgentID))
			}
		}
	}
	return errs
}

// Route evaluates a manifest's handoff rules for the agent named fromID
// against message, returning the first matching rule's target id in
// priority order (highest first), or "" if nothing matches.
func Route(cfg *MultiAgentConfig, fromID, message string) (targetID string, rule *HandoffRule) {
	if cfg == nil {
		return "", nil
	}
	var from *AgentDefinition
	for i := range cfg.Agents {
		if cfg.Agents[i].ID == fromID {
			from = &cfg.Agents[i]
			break
		}
	}
	if from == nil {
		return "", nil
	}

	rules := append([]HandoffRule(nil), from.HandoffRules...)
	sortRulesByPriorityDesc(rules)

	var fallback *HandoffRule
	for i := range rules {
		r := rules[i]
		for _, trig := range r.Triggers {
			switch trig.Type {
			case TriggerAlways:
				return r.TargetAgentID, &rules[i]
			case TriggerKeyword:
				if trig.Value != "" && strings.Contains(strings.ToLower(message), strings.ToLower(trig.Value)) {
					return r.TargetAgentID, &rules[i]
				}
			case TriggerPattern:
				if re, err := regexp.Compile(trig.Value); err == nil && re.MatchString(message) {
					return r.TargetAgentID, &rules[i]
				}
			case TriggerFallback:
				if fallback == nil {
					fallback = &rules[i]
				}
			}
		}
	}
	if fallback != nil {
		return fallback.TargetAgentID, fallback
	}
	return "", nil
}

func sortRulesByPriorityDesc(rules []HandoffRule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].Priority > rules[j-1].Priority; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// Find returns the agent definition with the given id, if present.
func (c *MultiAgentConfig) Find(id string) (*AgentDefinition, bool) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], true
		}
	}
	return nil, false
}
