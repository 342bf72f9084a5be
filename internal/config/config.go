// Package config loads and hot-reloads novelgen's run configuration:
// project defaults, revision-loop thresholds, and provider credentials.
// Grounded on the teacher's internal/config/config.go Manager shape (viper
// + fsnotify + yaml.v2), with the Config struct itself replaced: project/run
// parameters instead of OCR/LLM provider registry entries, and the env
// prefix changed from SHELF_ to NOVELGEN_ per spec.md §6.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// Config holds the parameters a run needs beyond what's passed on the CLI
// line: project defaults, revision-loop thresholds, and the credentials an
// external Provider implementation (e.g. internal/providers/openaiprovider)
// resolves for itself.
type Config struct {
	ProjectName string `mapstructure:"project_name" yaml:"project_name"`
	Author      string `mapstructure:"author" yaml:"author"`

	NumChapters       int `mapstructure:"num_chapters" yaml:"num_chapters"`
	MaxRevisionRounds int `mapstructure:"max_revision_rounds" yaml:"max_revision_rounds"`
	QABlockerMax      int `mapstructure:"qa_blocker_max" yaml:"qa_blocker_max"`
	QAMajorMax        int `mapstructure:"qa_major_max" yaml:"qa_major_max"`

	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
}

// ProviderConfig carries the credentials and tuning for a concrete
// LLM-backed Planner/Writer/Patcher. APIKey supports ${ENV_VAR} syntax,
// resolved via ResolveEnvVars so the literal key never lives in the config
// file itself.
type ProviderConfig struct {
	Name    string `mapstructure:"name" yaml:"name"` // "template" (default) or "openai"
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// HTTPConfig configures the optional internal/httpapi surface.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultConfig returns configuration with sensible defaults, matching
// spec.md §6's documented CLI/env-var defaults.
func DefaultConfig() *Config {
	return &Config{
		NumChapters:       1,
		MaxRevisionRounds: 3,
		QABlockerMax:      0,
		QAMajorMax:        3,
		Provider: ProviderConfig{
			Name:    "template",
			APIKey:  "${OPENAI_API_KEY}",
			BaseURL: "",
			Model:   "gpt-4o-mini",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// ResolveAPIKey returns the provider's API key with any ${ENV_VAR}
// reference expanded.
func (c *Config) ResolveAPIKey() string {
	return ResolveEnvVars(c.Provider.APIKey)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config from
// cfgFile (or ./config.yaml / $HOME/.novelgen/config.yaml if cfgFile is
// empty), layered under NOVELGEN_-prefixed environment variables.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{callbacks: make([]func(*Config), 0)}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}
	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg
	return cm, nil
}

func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("project_name", defaults.ProjectName)
	viper.SetDefault("author", defaults.Author)
	viper.SetDefault("num_chapters", defaults.NumChapters)
	viper.SetDefault("max_revision_rounds", defaults.MaxRevisionRounds)
	viper.SetDefault("qa_blocker_max", defaults.QABlockerMax)
	viper.SetDefault("qa_major_max", defaults.QAMajorMax)
	viper.SetDefault("provider", defaults.Provider)
	viper.SetDefault("http", defaults.HTTP)

	viper.SetEnvPrefix("NOVELGEN")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.novelgen")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback invoked with the reloaded config whenever
// the watched config file changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration via fsnotify.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// WriteDefault writes the default configuration to path as a starting
// config.yaml.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte("# novelgen configuration\n" +
		"# provider.api_key supports ${ENV_VAR} syntax, e.g. ${OPENAI_API_KEY}\n\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
