package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "CODEASSIST_CONFIG"

// Providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	defaultOllamaURL = "http://localhost:11434"
	defaultOpenAIURL = "https://api.openai.com/v1"
	defaultAPIKeyEnv = "OPENAI_API_KEY"
)

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ChatConfig selects and configures the chat model.
type ChatConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// IndexConfig locates the persisted index and tunes indexing.
type IndexConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	Rebuild    bool   `yaml:"rebuild"`
	Collisions string `yaml:"collisions"`
	BatchSize  int    `yaml:"batch_size"`
}

// RetrievalConfig tunes codebase search. The number of results per search
// is fixed at rag.TopK.
type RetrievalConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Chat      ChatConfig      `yaml:"chat"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	cfg := base()
	applyDefaults(cfg)
	return cfg
}

// base holds the defaults that cannot be told apart from an explicit zero
// value, so they are set before decoding.
func base() *AppConfig {
	return &AppConfig{
		Index:     IndexConfig{Rebuild: true},
		Retrieval: RetrievalConfig{CacheSize: 256},
	}
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the built-in defaults.
func Parse(data []byte) (*AppConfig, error) {
	cfg := base()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads .env from the working directory, then the first config
// file found in $CODEASSIST_CONFIG, ./codeassist.yaml and
// ~/.config/codeassist/config.yaml. It returns the path used, or "" when the
// built-in defaults apply.
func LoadDefault() (*AppConfig, string, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err != nil {
			return nil, "", fmt.Errorf("%s: %w", EnvConfigPath, err)
		}
		cfg, err := Load(p)
		return cfg, p, err
	}

	candidates := []string{"codeassist.yaml"}
	if userPath, err := defaultUserConfigPath(); err == nil {
		candidates = append(candidates, userPath)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	return Default(), "", nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "codeassist", "config.yaml"), nil
}

func applyDefaults(cfg *AppConfig) {
	e := &cfg.Embedder
	e.Provider = strings.ToLower(e.Provider)
	if e.Provider == "" {
		e.Provider = ProviderOllama
	}
	switch e.Provider {
	case ProviderOllama:
		if e.BaseURL == "" {
			e.BaseURL = defaultOllamaURL
		}
		if e.Model == "" {
			e.Model = "nomic-embed-text"
		}
		if e.Timeout == 0 {
			e.Timeout = 120 * time.Second
		}
	case ProviderOpenAI:
		if e.BaseURL == "" {
			e.BaseURL = defaultOpenAIURL
		}
		if e.Model == "" {
			e.Model = "text-embedding-ada-002"
		}
		if e.APIKeyEnv == "" {
			e.APIKeyEnv = defaultAPIKeyEnv
		}
		if e.Timeout == 0 {
			e.Timeout = 60 * time.Second
		}
	}

	c := &cfg.Chat
	c.Provider = strings.ToLower(c.Provider)
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	switch c.Provider {
	case ProviderOllama:
		if c.BaseURL == "" {
			c.BaseURL = defaultOllamaURL
		}
		if c.Model == "" {
			c.Model = "qwen3:8b"
		}
	case ProviderOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = defaultOpenAIURL
		}
		if c.Model == "" {
			c.Model = "gpt-4"
		}
		if c.APIKeyEnv == "" {
			c.APIKeyEnv = defaultAPIKeyEnv
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}

	if cfg.Index.Path == "" {
		cfg.Index.Path = defaultIndexPath()
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "my_collection"
	}
	if cfg.Index.Collisions == "" {
		cfg.Index.Collisions = "overwrite"
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 32
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
}

func defaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".codeassist", "index.db")
	}
	return filepath.Join(home, ".codeassist", "index.db")
}

// Validate reports settings no component can honour.
func (c *AppConfig) Validate() error {
	var errs []error
	for section, p := range map[string]string{"embedder": c.Embedder.Provider, "chat": c.Chat.Provider} {
		if p != ProviderOllama && p != ProviderOpenAI {
			errs = append(errs, fmt.Errorf("%s.provider: unknown provider %q", section, p))
		}
	}
	switch strings.ToLower(c.Index.Collisions) {
	case "overwrite", "reject":
	default:
		errs = append(errs, fmt.Errorf("index.collisions: must be overwrite or reject, got %q", c.Index.Collisions))
	}
	if c.Index.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("index.batch_size: must be positive, got %d", c.Index.BatchSize))
	}
	if c.Retrieval.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("retrieval.cache_size: must not be negative, got %d", c.Retrieval.CacheSize))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// EmbedderAPIKey returns the embedding API key from the configured environment variable.
func (c *AppConfig) EmbedderAPIKey() string {
	if c.Embedder.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Embedder.APIKeyEnv)
}

// ChatAPIKey returns the chat API key from the configured environment variable.
func (c *AppConfig) ChatAPIKey() string {
	if c.Chat.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Chat.APIKeyEnv)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
