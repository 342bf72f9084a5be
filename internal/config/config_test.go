package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NumChapters != 1 {
		t.Errorf("expected default NumChapters 1, got %d", cfg.NumChapters)
	}
	if cfg.Provider.APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected provider API key placeholder")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_NOVELGEN_API_KEY", "secret123")
		defer os.Unsetenv("TEST_NOVELGEN_API_KEY")

		result := ResolveEnvVars("${TEST_NOVELGEN_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ResolveAPIKey(t *testing.T) {
	os.Setenv("TEST_PROVIDER_KEY", "pk-123")
	defer os.Unsetenv("TEST_PROVIDER_KEY")

	cfg := &Config{Provider: ProviderConfig{APIKey: "${TEST_PROVIDER_KEY}"}}
	if got := cfg.ResolveAPIKey(); got != "pk-123" {
		t.Errorf("expected pk-123, got %s", got)
	}

	cfg.Provider.APIKey = "literal-key"
	if got := cfg.ResolveAPIKey(); got != "literal-key" {
		t.Errorf("expected literal-key, got %s", got)
	}
}

func TestNewManager_LoadsFromConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	content := `
project_name: "a test project"
num_chapters: 5
`
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()
	if cfg.ProjectName != "a test project" {
		t.Errorf("expected project name from file, got %q", cfg.ProjectName)
	}
	if cfg.NumChapters != 5 {
		t.Errorf("expected num_chapters 5, got %d", cfg.NumChapters)
	}
}

func TestManager_OnChange_RegistersCallback(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte("project_name: \"p\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if len(mgr.callbacks) != 2 {
		t.Errorf("expected 2 callbacks, got %d", len(mgr.callbacks))
	}
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte("project_name: \"p\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.ProjectName
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte("project_name: \"initial\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := mgr.Get().ProjectName; got != "initial" {
		t.Fatalf("initial value mismatch: got %q", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value
	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.ProjectName)
	})

	mgr.WatchConfig()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("project_name: \"updated\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}
	if got := mgr.Get().ProjectName; got != "updated" {
		t.Errorf("config not updated: got %q", got)
	}
	if v := lastValue.Load(); v != "updated" {
		t.Errorf("callback received wrong value: %v", v)
	}
}

func TestWriteDefault(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty config file")
	}
}
