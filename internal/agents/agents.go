// Package agents wires agent types to runtimes: scripted Basic agents for
// offline use and LLM-backed analyst assistants with finance data tools.
package agents

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/finagent/internal/config"
	"github.com/haasonsaas/finagent/internal/observability"
	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/internal/runtime/providers"
	"github.com/haasonsaas/finagent/pkg/models"
)

// Agent type names accepted at session creation.
const (
	TypeBasic     = "Basic"
	TypeAssistant = "SingleAssistantShadow"
)

// FactoryOptions carries everything runtime construction needs.
type FactoryOptions struct {
	Config  *config.Config
	Tools   *runtime.ToolRegistry
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewFactory builds the runtime factory with all supported agent types
// registered.
func NewFactory(opts FactoryOptions) *runtime.Factory {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	factory := runtime.NewFactory()

	factory.Register(TypeBasic, func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return runtime.NewBasicRuntime(hooks, nil), nil
	})

	factory.Register(TypeAssistant, func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		model, err := buildModel(opts.Config, cfg, opts.Metrics)
		if err != nil {
			return nil, err
		}
		reportDir := cfg.ReportDir
		if reportDir == "" && opts.Config != nil {
			reportDir = opts.Config.Data.ReportDir
		}
		return runtime.NewAssistantRuntime(runtime.AssistantOptions{
			Model:     model,
			Tools:     opts.Tools,
			Hooks:     hooks,
			System:    systemPrompt(cfg, opts.Config),
			ReportDir: reportDir,
			Logger:    logger,
		}), nil
	})

	return factory
}

// buildModel selects the provider from agent config, falling back to the
// server default.
func buildModel(serverCfg *config.Config, agentCfg models.AgentConfig, metrics *observability.Metrics) (runtime.ChatModel, error) {
	provider := agentCfg.Provider
	if provider == "" && serverCfg != nil {
		provider = serverCfg.LLM.DefaultProvider
	}
	if provider == "" {
		provider = "openai"
	}

	var providerCfg config.LLMProviderConfig
	if serverCfg != nil {
		providerCfg = serverCfg.Provider(provider)
	}
	model := agentCfg.Model
	if model == "" {
		model = providerCfg.DefaultModel
	}

	switch strings.ToLower(provider) {
	case "openai":
		return providers.NewOpenAIModel(providers.OpenAIConfig{
			APIKey:  providerCfg.APIKey,
			Model:   model,
			BaseURL: providerCfg.BaseURL,
			Metrics: metrics,
		}), nil
	case "anthropic":
		return providers.NewAnthropicModel(providers.AnthropicConfig{
			APIKey:  providerCfg.APIKey,
			Model:   model,
			BaseURL: providerCfg.BaseURL,
			Metrics: metrics,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// systemPrompt resolves the profile named in agent config. An explicit
// system prompt wins over a profile; an unknown profile falls back to the
// expert investor.
func systemPrompt(agentCfg models.AgentConfig, serverCfg *config.Config) string {
	if agentCfg.SystemPrompt != "" {
		return agentCfg.SystemPrompt
	}
	profile := agentCfg.Profile
	if profile == "" && serverCfg != nil {
		profile = serverCfg.Session.DefaultProfile
	}
	if prompt, ok := Profiles[profile]; ok {
		return prompt
	}
	return Profiles[ProfileExpertInvestor]
}
