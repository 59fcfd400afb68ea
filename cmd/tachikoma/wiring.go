package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tachikoma-dev/tachikoma/pkg/audit"
	"github.com/tachikoma-dev/tachikoma/pkg/config"
	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/masking"
	"github.com/tachikoma-dev/tachikoma/pkg/mcp"
	"github.com/tachikoma-dev/tachikoma/pkg/primitive"
	"github.com/tachikoma-dev/tachikoma/pkg/provider"
	"github.com/tachikoma-dev/tachikoma/pkg/services"
	"github.com/tachikoma-dev/tachikoma/pkg/tracker"
)

// buildProvider constructs the LLM backend named by cfg.Provider.Kind. The
// API key (where applicable) is read from the environment variable cfg
// names, never from the config file itself.
func buildProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Kind {
	case "anthropic":
		return provider.NewAnthropicFromAPIKey(os.Getenv(cfg.APIKeyEnv), cfg.Model, cfg.MaxTokens), nil
	case "openai":
		return provider.NewOpenAIFromAPIKey(os.Getenv(cfg.APIKeyEnv), cfg.Model, cfg.MaxTokens), nil
	case "ollama":
		return provider.NewOllama(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// buildTracker constructs the task source named by cfg.Tracker.Kind. The
// ticket-tracker backend only defines the TicketSource seam (pkg/tracker);
// a concrete source (e.g. a Jira or GitHub Issues client) is an
// integration a deployment supplies itself, so that kind is rejected here
// rather than silently running with no source at all.
func buildTracker(cfg config.TrackerConfig) (tracker.Tracker, error) {
	switch cfg.Kind {
	case "markdown":
		return tracker.NewMarkdownTracker(cfg.Path)
	case "ticket":
		return nil, fmt.Errorf("tracker kind %q requires a TicketSource wired by the deployment; none configured", cfg.Kind)
	default:
		return nil, fmt.Errorf("unknown tracker kind %q", cfg.Kind)
	}
}

// buildPrimitiveRegistry assembles the sandboxed tool catalog: path and
// command validators from cfg, a rate limiter, and an AuditRecorder that
// masks primitive output before handing it to the audit capture pipeline.
func buildPrimitiveRegistry(cfg config.PrimitivesConfig, maskingSvc *masking.Service, capture *audit.Capture) *primitive.Registry {
	pathValidator := primitive.NewPathValidator()
	for _, p := range cfg.AllowedPathPrefixes {
		pathValidator.Allow(p)
	}

	cmdValidator := primitive.NewCommandValidator(cfg.BlockedCommands...)

	rlCfg := primitive.DefaultRateLimitConfig()
	if cfg.RateLimitPerSecond > 0 {
		rlCfg.GlobalTokensPerSecond = cfg.RateLimitPerSecond
	}
	if cfg.RateLimitBurst > 0 {
		rlCfg.GlobalBurstSize = cfg.RateLimitBurst
	}
	rateLimiter := primitive.NewRateLimiter(rlCfg)

	recordAudit := func(name string, success bool, detail string) {
		outcome := audit.Success()
		if !success {
			outcome = audit.Failure(maskingSvc.MaskPrimitiveOutput(detail))
		}
		capture.Record(audit.NewBuilder(audit.CategorySystem, "primitive."+name).
			Actor2(audit.SystemActor("loop-engine")).
			Outcome2(outcome).
			Build())
	}

	registry := primitive.NewRegistry(rateLimiter, cfg.MaxOutputBytes, recordAudit)
	registry.Register(primitive.ReadFile{Validator: pathValidator})
	registry.Register(primitive.ListFiles{Validator: pathValidator})
	registry.Register(primitive.EditFile{Validator: pathValidator})
	registry.Register(primitive.NewBash(cmdValidator))
	registry.Register(primitive.NewCodeSearch(pathValidator))

	return registry
}

// buildMCPPrimitives connects to every configured MCP server and registers
// the primitives it discovers. Returns the live client (kept open for the
// life of the process; the caller closes it on shutdown) and the health
// monitor, which the caller starts and wires into the HTTP health
// endpoint.
func buildMCPPrimitives(
	ctx context.Context,
	cfg map[string]config.MCPServerConfig,
	registry *primitive.Registry,
	maskingSvc *masking.Service,
	warnings *services.SystemWarningsService,
) (*mcp.Client, *mcp.HealthMonitor, error) {
	mcpRegistry := mcp.NewRegistry(cfg)
	factory := mcp.NewClientFactory(mcpRegistry, maskingSvc)

	serverIDs := mcpRegistry.ServerIDs()
	prims, client, err := factory.CreatePrimitives(ctx, serverIDs, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("discover MCP primitives: %w", err)
	}
	for _, p := range prims {
		registry.Register(p)
	}

	monitor := mcp.NewHealthMonitor(factory, mcpRegistry, warnings)
	return client, monitor, nil
}

// toLoopConfig translates the YAML-facing LoopConfig into loop.Config,
// including the StopOn conditions the engine checks between iterations.
func toLoopConfig(cfg config.LoopConfig) loop.Config {
	lc := loop.Config{
		MaxIterations:     cfg.MaxIterations,
		RedlineThreshold:  cfg.RedlineThreshold,
		IterationDelay:    cfg.IterationDelayDuration(),
		MaxBackoff:        cfg.MaxBackoffDuration(),
		ContextWindowSize: cfg.ContextWindowSize,
		AutoCommit:        cfg.AutoCommit,
	}
	if cfg.StopOnNoProgress > 0 {
		lc.StopOn = append(lc.StopOn, loop.StopOnNoProgress{N: cfg.StopOnNoProgress})
	}
	if cfg.StopOnTestFailures > 0 {
		lc.StopOn = append(lc.StopOn, loop.StopOnTestFailStreak{N: cfg.StopOnTestFailures})
	}
	if cfg.StopOnErrorRatePct > 0 {
		lc.StopOn = append(lc.StopOn, loop.StopOnErrorRate{Pct: cfg.StopOnErrorRatePct})
	}
	return lc
}
