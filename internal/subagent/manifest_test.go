package subagent

import "testing"

const testManifest = `
agents:
  - id: coordinator
    name: Coordinator
    system_prompt: route requests
    handoff_rules:
      - target_agent_id: code-expert
        triggers:
          - {type: keyword, value: code}
      - target_agent_id: research-expert
        triggers:
          - {type: fallback}
  - id: code-expert
    name: Code Expert
    system_prompt: you write code
    can_receive_handoffs: true
  - id: research-expert
    name: Research Expert
    system_prompt: you research
    can_receive_handoffs: true
default_agent_id: coordinator
`

func TestParseConfigYAML_AppliesDefaultsAndNames(t *testing.T) {
	cfg, err := ParseConfigYAML([]byte(testManifest))
	if err != nil {
		t.Fatalf("ParseConfigYAML: %v", err)
	}
	if cfg.MaxHandoffDepth != DefaultMaxDepth {
		t.Errorf("MaxHandoffDepth = %d, want default %d", cfg.MaxHandoffDepth, DefaultMaxDepth)
	}
	if len(cfg.Agents) != 3 {
		t.Fatalf("len(Agents) = %d, want 3", len(cfg.Agents))
	}
}

func TestValidateConfig_CatchesDanglingHandoffTarget(t *testing.T) {
	cfg, err := ParseConfigYAML([]byte(testManifest))
	if err != nil {
		t.Fatalf("ParseConfigYAML: %v", err)
	}
	cfg.Agents[0].HandoffRules[0].TargetAgentID = "ghost"
	errs := ValidateConfig(cfg)
	if len(errs) == 0 {
		t.Fatal("expected a dangling handoff target error")
	}
}

func TestRoute_KeywordTriggerWinsOverFallback(t *testing.T) {
	cfg, err := ParseConfigYAML([]byte(testManifest))
	if err != nil {
		t.Fatalf("ParseConfigYAML: %v", err)
	}
	target, rule := Route(cfg, "coordinator", "please review my code")
	if target != "code-expert" {
		t.Errorf("target = %q, want code-expert", target)
	}
	if rule == nil || rule.TargetAgentID != "code-expert" {
		t.Errorf("rule = %+v", rule)
	}
}

func TestRoute_FallsBackWhenNoKeywordMatches(t *testing.T) {
	cfg, err := ParseConfigYAML([]byte(testManifest))
	if err != nil {
		t.Fatalf("ParseConfigYAML: %v", err)
	}
	target, _ := Route(cfg, "coordinator", "what's the weather like")
	if target != "research-expert" {
		t.Errorf("target = %q, want research-expert (fallback)", target)
	}
}

func TestRoute_UnknownAgentReturnsEmpty(t *testing.T) {
	cfg, err := ParseConfigYAML([]byte(testManifest))
	if err != nil {
		t.Fatalf("ParseConfigYAML: %v", err)
	}
	if target, _ := Route(cfg, "ghost", "anything"); target != "" {
		t.Errorf("target = %q, want empty for unknown agent", target)
	}
}
