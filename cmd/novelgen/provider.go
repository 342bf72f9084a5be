package main

import (
	"github.com/jamesenh/novelgen/internal/config"
	"github.com/jamesenh/novelgen/internal/providers"
	"github.com/jamesenh/novelgen/internal/providers/openaiprovider"
)

// resolveProviders picks the generation trio a run uses: the deterministic
// template providers by default, or a real OpenAI-backed trio when
// provider.name is set to "openai" in config. The core graph and
// orchestrator never import openaiprovider directly; only this selection
// point does.
func resolveProviders(cfg *config.Config) providers.GenerationProviders {
	if cfg == nil || cfg.Provider.Name != "openai" {
		return providers.Default()
	}
	client := openaiprovider.New(cfg.ResolveAPIKey(), cfg.Provider.BaseURL, cfg.Provider.Model)
	return providers.GenerationProviders{
		Planner: &openaiprovider.Planner{Client: client},
		Writer:  &openaiprovider.Writer{Client: client},
		Patcher: &openaiprovider.Patcher{Client: client},
	}
}

// loadConfig resolves configuration the same way the HTTP server and every
// CLI command do: --config flag, or ./config.yaml, or ~/.novelgen/config.yaml.
func loadConfig() (*config.Config, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return config.DefaultConfig(), nil
	}
	return cm.Get(), nil
}
