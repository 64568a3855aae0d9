// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RIGCHAT_"

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Engine    EngineConfig     `toml:"engine"`
	Storage   StorageConfig    `toml:"storage"`
	Logging   LoggingConfig    `toml:"logging"`
	Settings  SettingsConfig   `toml:"settings"`
	Metrics   MetricsConfig    `toml:"metrics"`
	Providers []ProviderConfig `toml:"providers"`
}

// EngineConfig controls the chat engine.
type EngineConfig struct {
	// MaxConcurrent bounds generation turns running at once across conversations
	MaxConcurrent int `toml:"max_concurrent" env:"MAX_CONCURRENT"`
	// ContextWindow is the history size for assistants that set none
	ContextWindow int `toml:"context_window" env:"CONTEXT_WINDOW"`
	// TitleGeneration derives a title after the first completed turn
	TitleGeneration bool `toml:"title_generation" env:"TITLE_GENERATION"`
	// TaskTimeoutSecs bounds a single turn; 0 disables the bound
	TaskTimeoutSecs int `toml:"task_timeout_secs" env:"TASK_TIMEOUT_SECS"`
}

// StorageConfig selects and configures the conversation repository.
type StorageConfig struct {
	// Driver is one of: memory, file, sqlite
	Driver string `toml:"driver" env:"DRIVER"`
	// Dir is the directory of the file driver (default ~/.rigchat/conversations)
	Dir string `toml:"dir" env:"DIR"`
	// DSN is the database path of the sqlite driver
	DSN string `toml:"dsn" env:"DSN"`
	// MaxConversations is the retention limit of the file driver
	MaxConversations int `toml:"max_conversations" env:"MAX_CONVERSATIONS"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// SettingsConfig locates the assistant and model settings file.
type SettingsConfig struct {
	Path  string `toml:"path" env:"PATH"`
	Watch bool   `toml:"watch" env:"WATCH"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics; empty disables the endpoint
	Addr string `toml:"addr" env:"ADDR"`
}

// ProviderConfig configures one backend.
type ProviderConfig struct {
	// Type is one of: DEEPSEEK, QWEN, OPENAI, CUSTOM
	Type    string `toml:"type"`
	BaseURL string `toml:"base_url"`
	// APIKey may be left empty and supplied as RIGCHAT_<TYPE>_API_KEY
	APIKey string `toml:"api_key"`

	ConnectTimeoutSecs int `toml:"connect_timeout_secs"`
	ReadTimeoutSecs    int `toml:"read_timeout_secs"`
	WriteTimeoutSecs   int `toml:"write_timeout_secs"`

	// RequestsPerSecond paces requests; 0 means unlimited
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`

	Headers map[string]string `toml:"headers"`
}

// ProviderType returns the parsed backend type.
func (p ProviderConfig) ProviderType() (model.ProviderType, error) {
	return model.ParseProviderType(p.Type)
}

// APIKeyEnv returns the environment variable holding this provider's key.
func (p ProviderConfig) APIKeyEnv() string {
	return EnvPrefix + strings.ToUpper(strings.TrimSpace(p.Type)) + "_API_KEY"
}

// Default returns a new Config with default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrent:   8,
			ContextWindow:   model.DefaultContextMessageSize,
			TitleGeneration: true,
		},
		Storage: StorageConfig{
			Driver:           DriverFile,
			MaxConversations: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
	}
}

// defaultProviders are configured when the file names none.
func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Type: string(model.ProviderDeepSeek)},
		{Type: string(model.ProviderQwen)},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir creates the configuration directory with owner-only
// permissions and returns its path.
func EnsureConfigDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, util.PrivateDirMode); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// DefaultSettingsPath returns the path to the assistant settings file.
func DefaultSettingsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != util.PrivateFileMode {
		if err := os.Chmod(path, util.PrivateFileMode); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads ~/.rigchat/config.toml, falling back to defaults when it does
// not exist. A .env file in the working directory and RIGCHAT_* variables
// are applied last.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from path. A missing file yields the
// defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := LoadDotEnv(""); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
	}
	return nil
}

// LoadDotEnv loads variables from a .env file (path, or ./.env when empty)
// without overriding variables already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path atomically with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	err := util.WriteAtomic(path, func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(cfg)
	})
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - RIGCHAT_ENGINE_MAX_CONCURRENT, RIGCHAT_ENGINE_CONTEXT_WINDOW,
//     RIGCHAT_ENGINE_TITLE_GENERATION, RIGCHAT_ENGINE_TASK_TIMEOUT_SECS
//   - RIGCHAT_STORAGE_DRIVER, RIGCHAT_STORAGE_DIR, RIGCHAT_STORAGE_DSN,
//     RIGCHAT_STORAGE_MAX_CONVERSATIONS
//   - RIGCHAT_LOG_LEVEL, RIGCHAT_LOG_FORMAT
//   - RIGCHAT_SETTINGS_PATH, RIGCHAT_SETTINGS_WATCH
//   - RIGCHAT_METRICS_ADDR
//   - RIGCHAT_<TYPE>_API_KEY for each configured provider
func (c *Config) ApplyEnvOverrides() error {
	sections := []struct {
		prefix string
		target any
	}{
		{"ENGINE_", &c.Engine},
		{"STORAGE_", &c.Storage},
		{"LOG_", &c.Logging},
		{"SETTINGS_", &c.Settings},
		{"METRICS_", &c.Metrics},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("failed to apply environment overrides: %w", err)
		}
	}

	// SECURITY: Keys from the environment win over keys in the file.
	for i := range c.Providers {
		if key := strings.TrimSpace(os.Getenv(c.Providers[i].APIKeyEnv())); key != "" {
			c.Providers[i].APIKey = key
		}
	}
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Engine.MaxConcurrent == 0 {
		c.Engine.MaxConcurrent = defaults.Engine.MaxConcurrent
	}
	if c.Engine.ContextWindow == 0 {
		c.Engine.ContextWindow = defaults.Engine.ContextWindow
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = defaults.Storage.Driver
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.MaxConversations == 0 {
		c.Storage.MaxConversations = defaults.Storage.MaxConversations
	}
	if c.Storage.Dir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.Dir = filepath.Join(dir, "conversations")
		}
	}
	if c.Storage.DSN == "" && c.Storage.Driver == DriverSQLite {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.DSN = filepath.Join(dir, "conversations.db")
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	if c.Settings.Path == "" {
		if path, err := DefaultSettingsPath(); err == nil {
			c.Settings.Path = path
		}
	}

	if len(c.Providers) == 0 {
		c.Providers = defaultProviders()
		// Keys for the default providers come from the environment.
		for i := range c.Providers {
			c.Providers[i].APIKey = strings.TrimSpace(os.Getenv(c.Providers[i].APIKeyEnv()))
		}
	}
	for i := range c.Providers {
		c.Providers[i].Type = strings.ToUpper(strings.TrimSpace(c.Providers[i].Type))
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Engine
	if c.Engine.MaxConcurrent < 1 || c.Engine.MaxConcurrent > 256 {
		add("engine.max_concurrent", "must be between 1 and 256, got %d", c.Engine.MaxConcurrent)
	}
	if c.Engine.ContextWindow < 1 {
		add("engine.context_window", "must be positive, got %d", c.Engine.ContextWindow)
	}
	if c.Engine.TaskTimeoutSecs < 0 {
		add("engine.task_timeout_secs", "must not be negative, got %d", c.Engine.TaskTimeoutSecs)
	}

	// Storage
	switch strings.ToLower(c.Storage.Driver) {
	case DriverMemory, DriverFile:
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn", "is required for the sqlite driver")
		}
	default:
		add("storage.driver", "invalid driver '%s', must be one of: memory, file, sqlite", c.Storage.Driver)
	}
	if c.Storage.MaxConversations < 0 {
		add("storage.max_conversations", "must not be negative, got %d", c.Storage.MaxConversations)
	}

	// Logging
	if !logging.ValidLevel(c.Logging.Level) {
		add("logging.level", "invalid level '%s'", c.Logging.Level)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		add("logging.format", "invalid format '%s', must be one of: console, json", c.Logging.Format)
	}

	// Providers
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		t, err := p.ProviderType()
		if err != nil {
			add(field+".type", "%v", err)
			continue
		}
		switch t {
		case model.ProviderDeepSeek, model.ProviderQwen, model.ProviderOpenAI:
		case model.ProviderCustom:
			if strings.TrimSpace(p.BaseURL) == "" {
				add(field+".base_url", "is required for CUSTOM providers")
			}
		default:
			add(field+".type", "no client for provider type %s", t)
		}
		if seen[string(t)] {
			add(field+".type", "duplicate provider %s", t)
		}
		seen[string(t)] = true

		if p.BaseURL != "" {
			// SECURITY: Only http(s) endpoints are accepted.
			u, err := url.Parse(p.BaseURL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add(field+".base_url", "invalid URL '%s'", p.BaseURL)
			}
		}
		if p.ConnectTimeoutSecs < 0 || p.ReadTimeoutSecs < 0 || p.WriteTimeoutSecs < 0 {
			add(field, "timeouts must not be negative")
		}
		if p.RequestsPerSecond < 0 {
			add(field+".requests_per_second", "must not be negative")
		}
		if p.Burst < 0 {
			add(field+".burst", "must not be negative")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		if p.Headers != nil {
			headers := make(map[string]string, len(p.Headers))
			for k, v := range p.Headers {
				headers[k] = v
			}
			p.Headers = headers
		}
		out.Providers[i] = p
	}
	return &out
}

// String renders the configuration as TOML with API keys masked.
// SECURITY: Never print credentials.
func (c *Config) String() string {
	safe := c.Clone()
	for i := range safe.Providers {
		if safe.Providers[i].APIKey != "" {
			safe.Providers[i].APIKey = maskKey(safe.Providers[i].APIKey)
		}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
