package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/jonathan/interview-orchestrator/internal/agents"
	"github.com/jonathan/interview-orchestrator/internal/config"
	"github.com/jonathan/interview-orchestrator/internal/flow"
	"github.com/jonathan/interview-orchestrator/internal/llm"
	"github.com/jonathan/interview-orchestrator/internal/session"
)

// engine bundles everything the commands need after bootstrap.
type engine struct {
	cfg       *config.Config
	sessions  *session.Manager
	autoReply *agents.AutoReplyAgent
	transport *llm.Dispatcher
}

// buildEngine loads configuration, resolves the route registry, and wires
// gateway, agents, flow manager, and session registry.
func buildEngine(ctx context.Context, configPath string, logger zerolog.Logger) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	apiKey := os.Getenv(cfg.LLM.APIKeyEnvVar)
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable %s is required", cfg.LLM.APIKeyEnvVar)
	}

	transport, err := llm.NewDispatcher(ctx, apiKey, cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("failed to build transport: %w", err)
	}
	gateway := llm.NewGateway(transport, logger)
	registry := config.NewRegistry(cfg)

	resolve := func(key string) (config.RouteBinding, error) {
		binding, err := registry.Resolve(key)
		if err != nil {
			return config.RouteBinding{}, fmt.Errorf("config error: %w", err)
		}
		return binding, nil
	}

	primerBinding, err := resolve(agents.PrimerAgentKey)
	if err != nil {
		return nil, err
	}
	warmupBinding, err := resolve(agents.WarmupAgentKey)
	if err != nil {
		return nil, err
	}
	questionerBinding, err := resolve(agents.QuestionerAgentKey)
	if err != nil {
		return nil, err
	}
	evaluatorBinding, err := resolve(agents.EvaluatorAgentKey)
	if err != nil {
		return nil, err
	}

	flowManager := flow.NewManager(
		agents.NewPrimerAgent(gateway, primerBinding),
		agents.NewWarmupAgent(gateway, warmupBinding),
		agents.NewQuestionerAgent(gateway, questionerBinding),
		agents.NewEvaluatorAgent(gateway, evaluatorBinding),
		cfg.Flow,
		logger,
	)

	e := &engine{
		cfg:       cfg,
		sessions:  session.NewManager(flowManager, cfg.Flow, logger),
		transport: transport,
	}

	// The auto-reply agent is optional: only wire it when a route is bound.
	if binding, err := registry.Resolve(agents.AutoReplyAgentKey); err == nil {
		e.autoReply = agents.NewAutoReplyAgent(gateway, binding)
	}
	return e, nil
}
