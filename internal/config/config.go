package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LogConfig         `yaml:"log"`
	LLM         LLMConfig         `yaml:"llm"`
	Router      RouterConfig      `yaml:"router"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Bus         BusConfig         `yaml:"bus"`
	NATS        NATSConfig        `yaml:"nats"`
	Store       StoreConfig       `yaml:"store"`
	Web         WebConfig         `yaml:"web"`
	Vault       VaultConfig       `yaml:"vault"`
	Agents      []AgentDefinition `yaml:"agents"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig selects the text generation backend.
type LLMConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type RouterConfig struct {
	KeywordThreshold  float64 `yaml:"keyword_threshold"`
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	HistoryTurns      int     `yaml:"history_turns"`
}

type CoordinatorConfig struct {
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

type BusConfig struct {
	Retention       time.Duration `yaml:"retention"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

// AgentDefinition is one specialist as declared in the config file. The
// order of the agents list is preserved and used as enumeration order.
type AgentDefinition struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Tools        []string `yaml:"tools"`
	Instructions string   `yaml:"instructions"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		},
		Router: RouterConfig{
			KeywordThreshold:  0.90,
			SemanticThreshold: 0.80,
			HistoryTurns:      3,
		},
		Coordinator: CoordinatorConfig{
			TaskTimeout: 5 * time.Minute,
		},
		Bus: BusConfig{
			Retention:       7 * 24 * time.Hour,
			CleanupSchedule: "0 3 * * *",
		},
		NATS: NATSConfig{
			Enabled: true,
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/vibe.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv("VIBE_CONFIG"); p != "" {
		return p
	}
	return "config/vibe.yaml"
}

func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config at path. A missing file yields defaults plus
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent #%d: name is required", i+1)
		}
		if seen[a.Name] {
			return fmt.Errorf("agent %q: duplicate name", a.Name)
		}
		seen[a.Name] = true
	}
	if t := c.Router.KeywordThreshold; t < 0 || t > 1 {
		return fmt.Errorf("router.keyword_threshold must be within [0,1], got %v", t)
	}
	if t := c.Router.SemanticThreshold; t < 0 || t > 1 {
		return fmt.Errorf("router.semantic_threshold must be within [0,1], got %v", t)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VIBE_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("VIBE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if v := os.Getenv("VIBE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("VIBE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("VIBE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("VIBE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("VIBE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("VIBE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
