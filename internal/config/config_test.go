// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateHome points the config directory at a temp dir.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	return home
}

// TestConfig_ConcurrentAccess tests that Global(), SetGlobal(), and ReloadGlobal()
// can be safely called concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup

	// 50 writers using SetGlobal, 50 readers using Global
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			c := Default()
			c.Engine.MaxConcurrent = 2
			SetGlobal(c)
		}()

		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}

	wg.Wait()
}

// TestConfig_ConcurrentReload tests concurrent ReloadGlobal and Global calls.
func TestConfig_ConcurrentReload(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := ReloadGlobal(); err != nil {
				t.Errorf("ReloadGlobal() failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_GlobalInitialization(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	first := Global()
	require.NotNil(t, first)
	assert.Same(t, first, Global(), "Global() should return the same instance")
	assert.Len(t, first.Providers, 2, "default providers should be configured")
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	_ = Global()
	custom := Default()
	custom.Engine.ContextWindow = 7
	SetGlobal(custom)

	assert.Equal(t, 7, Global().Engine.ContextWindow)
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 64, cfg.Engine.ContextWindow)
	assert.True(t, cfg.Engine.TitleGeneration)
	assert.Equal(t, DriverFile, cfg.Storage.Driver)
	assert.Equal(t, 100, cfg.Storage.MaxConversations)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SetDefaults(t *testing.T) {
	home := isolateHome(t)
	t.Setenv("RIGCHAT_DEEPSEEK_API_KEY", "sk-from-env")

	cfg := &Config{Storage: StorageConfig{Driver: "SQLite"}}
	cfg.SetDefaults()

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(home, ".rigchat", "conversations.db"), cfg.Storage.DSN)
	assert.Equal(t, filepath.Join(home, ".rigchat", "settings.yaml"), cfg.Settings.Path)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "DEEPSEEK", cfg.Providers[0].Type)
	assert.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
	assert.Empty(t, cfg.Providers[1].APIKey)
	assert.NoError(t, cfg.Validate())
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{
			name:   "zero concurrency",
			modify: func(c *Config) { c.Engine.MaxConcurrent = 0 },
			field:  "engine.max_concurrent",
		},
		{
			name:   "negative context window",
			modify: func(c *Config) { c.Engine.ContextWindow = -1 },
			field:  "engine.context_window",
		},
		{
			name:   "unknown driver",
			modify: func(c *Config) { c.Storage.Driver = "postgres" },
			field:  "storage.driver",
		},
		{
			name:   "sqlite without dsn",
			modify: func(c *Config) { c.Storage.Driver = DriverSQLite },
			field:  "storage.dsn",
		},
		{
			name:   "invalid log level",
			modify: func(c *Config) { c.Logging.Level = "loud" },
			field:  "logging.level",
		},
		{
			name:   "invalid log format",
			modify: func(c *Config) { c.Logging.Format = "xml" },
			field:  "logging.format",
		},
		{
			name:   "unknown provider type",
			modify: func(c *Config) { c.Providers = []ProviderConfig{{Type: "bogus"}} },
			field:  "providers[0].type",
		},
		{
			name:   "provider without client",
			modify: func(c *Config) { c.Providers = []ProviderConfig{{Type: "GOOGLE"}} },
			field:  "providers[0].type",
		},
		{
			name:   "custom provider without base url",
			modify: func(c *Config) { c.Providers = []ProviderConfig{{Type: "CUSTOM"}} },
			field:  "providers[0].base_url",
		},
		{
			name: "non-http base url",
			modify: func(c *Config) {
				c.Providers = []ProviderConfig{{Type: "OPENAI", BaseURL: "ftp://example.com"}}
			},
			field: "providers[0].base_url",
		},
		{
			name: "duplicate provider",
			modify: func(c *Config) {
				c.Providers = []ProviderConfig{{Type: "QWEN"}, {Type: "qwen"}}
			},
			field: "providers[1].type",
		},
		{
			name: "negative timeout",
			modify: func(c *Config) {
				c.Providers = []ProviderConfig{{Type: "QWEN", ReadTimeoutSecs: -5}}
			},
			field: "providers[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "expected ValidateErrors, got %v", err)
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateErrors_Error(t *testing.T) {
	assert.Equal(t, "no validation errors", ValidateErrors{}.Error())

	errs := ValidateErrors{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}
	assert.Equal(t, "a: bad; b: worse", errs.Error())
}

func TestLoadFromPath_Missing(t *testing.T) {
	isolateHome(t)

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrent)
	assert.Len(t, cfg.Providers, 2)
}

func TestLoadFromPath_TOML(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[engine]
max_concurrent = 3
title_generation = false

[storage]
driver = "memory"

[logging]
level = "debug"
format = "json"

[[providers]]
type = "custom"
base_url = "http://localhost:8000/v1"
api_key = "sk-file-key-123456"
read_timeout_secs = 90
requests_per_second = 2.5
burst = 4

[providers.headers]
X-Org = "rig"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.MaxConcurrent)
	assert.False(t, cfg.Engine.TitleGeneration)
	assert.Equal(t, 64, cfg.Engine.ContextWindow, "unset keys keep defaults")
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.Len(t, cfg.Providers, 1)
	p := cfg.Providers[0]
	assert.Equal(t, "CUSTOM", p.Type)
	assert.Equal(t, "http://localhost:8000/v1", p.BaseURL)
	assert.Equal(t, "sk-file-key-123456", p.APIKey)
	assert.Equal(t, 90, p.ReadTimeoutSecs)
	assert.Equal(t, 2.5, p.RequestsPerSecond)
	assert.Equal(t, 4, p.Burst)
	assert.Equal(t, "rig", p.Headers["X-Org"])
}

func TestLoadFromPath_Invalid(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\ndriver = \"postgres\"\n"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
}

func TestLoadFromPath_Malformed(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine\n"), 0600))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

// TestLoadTOML_FixesPermissions verifies that key-bearing files end up owner-only.
func TestLoadTOML_FixesPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions only")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nmax_concurrent = 2\n"), 0644))

	cfg := Default()
	require.NoError(t, LoadTOML(cfg, path))
	assert.Equal(t, 2, cfg.Engine.MaxConcurrent)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RIGCHAT_ENGINE_MAX_CONCURRENT", "5")
	t.Setenv("RIGCHAT_ENGINE_TITLE_GENERATION", "false")
	t.Setenv("RIGCHAT_STORAGE_DRIVER", "memory")
	t.Setenv("RIGCHAT_LOG_LEVEL", "warn")
	t.Setenv("RIGCHAT_METRICS_ADDR", "127.0.0.1:9090")
	t.Setenv("RIGCHAT_QWEN_API_KEY", "sk-env-qwen")

	cfg := Default()
	cfg.Providers = []ProviderConfig{{Type: "QWEN", APIKey: "sk-file"}, {Type: "OPENAI", APIKey: "sk-openai"}}
	require.NoError(t, cfg.ApplyEnvOverrides())

	assert.Equal(t, 5, cfg.Engine.MaxConcurrent)
	assert.False(t, cfg.Engine.TitleGeneration)
	assert.Equal(t, 64, cfg.Engine.ContextWindow, "unset variables leave values alone")
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
	assert.Equal(t, "sk-env-qwen", cfg.Providers[0].APIKey)
	assert.Equal(t, "sk-openai", cfg.Providers[1].APIKey)
}

func TestApplyEnvOverrides_BadValue(t *testing.T) {
	t.Setenv("RIGCHAT_ENGINE_MAX_CONCURRENT", "many")

	err := Default().ApplyEnvOverrides()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	// Registers cleanup that restores the unset state.
	t.Setenv("RIGCHAT_DOTENV_SAMPLE", "")
	require.NoError(t, os.Unsetenv("RIGCHAT_DOTENV_SAMPLE"))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RIGCHAT_DOTENV_SAMPLE=loaded\n"), 0600))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("RIGCHAT_DOTENV_SAMPLE"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")), "missing file is not an error")
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Engine.ContextWindow = 12
	cfg.Providers = []ProviderConfig{{Type: "DEEPSEEK", ConnectTimeoutSecs: 10}}
	require.NoError(t, SaveTOML(cfg, path))

	loaded := Default()
	require.NoError(t, LoadTOML(loaded, path))
	assert.Equal(t, 12, loaded.Engine.ContextWindow)
	require.Len(t, loaded.Providers, 1)
	assert.Equal(t, 10, loaded.Providers[0].ConnectTimeoutSecs)
}

func TestConfig_StringMasksKeys(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{
		{Type: "DEEPSEEK", APIKey: "sk-1234567890abcdef"},
		{Type: "QWEN", APIKey: "short"},
	}

	out := cfg.String()
	assert.NotContains(t, out, "sk-1234567890abcdef")
	assert.Contains(t, out, "sk-1...cdef")
	assert.NotContains(t, out, "short")
	assert.Equal(t, "sk-1234567890abcdef", cfg.Providers[0].APIKey, "String must not mutate the config")
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{{Type: "OPENAI", Headers: map[string]string{"A": "1"}}}

	clone := cfg.Clone()
	clone.Providers[0].Headers["A"] = "2"
	clone.Providers[0].Type = "QWEN"
	clone.Engine.MaxConcurrent = 1

	assert.Equal(t, "1", cfg.Providers[0].Headers["A"])
	assert.Equal(t, "OPENAI", cfg.Providers[0].Type)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrent)
}

func TestProviderConfig_APIKeyEnv(t *testing.T) {
	assert.Equal(t, "RIGCHAT_DEEPSEEK_API_KEY", ProviderConfig{Type: "deepseek"}.APIKeyEnv())
	assert.True(t, strings.HasPrefix(ProviderConfig{Type: "custom"}.APIKeyEnv(), EnvPrefix))
}
