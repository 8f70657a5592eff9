package main

import (
	"fmt"
	"os"

	"github.com/agentcore/runtime/internal/eventbus"
	"github.com/agentcore/runtime/internal/metrics"
	"github.com/agentcore/runtime/internal/providers"
	"github.com/agentcore/runtime/internal/runtime"
	"github.com/agentcore/runtime/internal/telemetry"
	"github.com/agentcore/runtime/internal/tools"
	"github.com/agentcore/runtime/internal/tools/builtin"
)

// buildManager wires one runtime.Manager from environment variables: a
// provider per configured API key (ANTHROPIC_API_KEY, OPENAI_API_KEY), the
// built-in tool catalog rooted at workspaceRoot, a shared event bus, and a
// Prometheus metrics collector.
func buildManager(workspaceRoot, dataDir string) (*runtime.Manager, error) {
	registry := providers.NewRegistry()
	registered := 0

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		registry.Register(providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       key,
			DefaultModel: os.Getenv("AGENTCORE_ANTHROPIC_MODEL"),
		}))
		registered++
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		registry.Register(providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       key,
			DefaultModel: os.Getenv("AGENTCORE_OPENAI_MODEL"),
		}))
		registered++
	}
	if registered == 0 {
		return nil, fmt.Errorf("agentcore: no provider configured; set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}

	catalog := tools.NewRegistry()
	if err := builtin.Register(catalog, workspaceRoot); err != nil {
		return nil, fmt.Errorf("agentcore: register built-in tools: %w", err)
	}

	bus := eventbus.New()
	mgr := runtime.NewManager(bus, registry, catalog, dataDir)
	mgr.SetMetrics(metrics.New())

	if endpoint := os.Getenv("AGENTCORE_OTEL_ENDPOINT"); endpoint != "" {
		tracer, _ := telemetry.New(telemetry.Config{
			ServiceName: "agentcore",
			Endpoint:    endpoint,
			Insecure:    os.Getenv("AGENTCORE_OTEL_INSECURE") == "true",
		})
		mgr.SetTracer(tracer)
	}

	return mgr, nil
}

// defaultProviderTag picks the first registered provider name, for commands
// that don't require the caller to specify one explicitly.
func defaultProviderTag(mgr *runtime.Manager) string {
	names := mgr.ProviderNames()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
