package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Model        ModelConfig
	Ollama       OllamaConfig
	OpenAI       OpenAIConfig
	Storage      StorageConfig
	Memory       MemoryConfig
	Orchestrator OrchestratorConfig
	Feeds        FeedsConfig
	Notify       NotifyConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
}

// ModelConfig selects the language model backend and the models used for
// chat and embeddings. Provider is "ollama" or "openai".
type ModelConfig struct {
	Provider   string
	ChatModel  string
	EmbedModel string
}

type OllamaConfig struct {
	BaseURL string
}

// OpenAIConfig covers api.openai.com and any OpenAI-compatible endpoint
// (OpenRouter, vLLM, LM Studio) via BaseURL.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type MemoryConfig struct {
	RecentTurns int
	RecallTopK  int
	// EmbeddingRetention caps stored embeddings per conversation. 0 keeps all.
	EmbeddingRetention int
	MaxStoredTurns     int
	MaxContextChars    int
}

type OrchestratorConfig struct {
	MaxIterations int
	ToolTimeout   time.Duration
	ModelTimeout  time.Duration
}

type FeedsConfig struct {
	Tick               time.Duration
	PollInterval       time.Duration
	MaxBackoff         time.Duration
	MaxConcurrentPolls int
	SeenRetention      int
	FetchTimeout       time.Duration
}

type NotifyConfig struct {
	Timeout          time.Duration
	MaxMessageLength int
	Sinks            []SinkConfig
}

// SinkConfig describes one notifier destination. Only the fields relevant to
// Type are read.
type SinkConfig struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Scopes   []string `yaml:"scopes"`
	URL      string   `yaml:"url"`
	Token    string   `yaml:"token,omitempty"`
	Topic    string   `yaml:"topic,omitempty"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Priority int      `yaml:"priority,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
	Status   string   `yaml:"status,omitempty"`
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Model: ModelConfig{
			Provider:   "ollama",
			ChatModel:  "qwen2.5:7b",
			EmbedModel: "nomic-embed-text",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Memory: MemoryConfig{
			RecentTurns:     20,
			RecallTopK:      5,
			MaxStoredTurns:  500,
			MaxContextChars: 12000,
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations: 6,
			ToolTimeout:   30 * time.Second,
			ModelTimeout:  2 * time.Minute,
		},
		Feeds: FeedsConfig{
			Tick:               time.Minute,
			PollInterval:       5 * time.Minute,
			MaxBackoff:         time.Hour,
			MaxConcurrentPolls: 4,
			SeenRetention:      1000,
			FetchTimeout:       20 * time.Second,
		},
		Notify: NotifyConfig{
			Timeout:          10 * time.Second,
			MaxMessageLength: 1500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file backend, a .env file in the
// working directory, environment variables, and the local secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/tater/config.yaml unless
// TATER_CONFIG points elsewhere. Environment variables (TATER_*) override
// file values; variables already set in the process win over .env entries.
func Load() (Config, error) {
	loadDotEnv()
	return LoadFile(FilePath())
}

// LoadFile loads configuration using the YAML file at path as the backend.
func LoadFile(path string) (Config, error) {
	return loadWith(newFileBackend(path), NewKeychain())
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if src, ok := b.(sinkSource); ok {
		sinks, err := src.Sinks()
		if err != nil {
			return Config{}, fmt.Errorf("reading notify.sinks: %w", err)
		}
		cfg.Notify.Sinks = sinks
	}

	applyEnvOverrides(&cfg)

	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get(keychainService, "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting in cfg.
func Validate(cfg Config) error {
	switch strings.ToLower(cfg.Model.Provider) {
	case "ollama":
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return fmt.Errorf("missing required config: OpenAI API key. " +
				"Set it via environment variable TATER_OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown model.provider %q (want ollama or openai)", cfg.Model.Provider)
	}
	if cfg.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be positive, got %d", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Feeds.MaxConcurrentPolls <= 0 {
		return fmt.Errorf("feeds.max_concurrent_polls must be positive, got %d", cfg.Feeds.MaxConcurrentPolls)
	}
	if cfg.Feeds.Tick <= 0 || cfg.Feeds.PollInterval <= 0 {
		return fmt.Errorf("feeds.tick and feeds.poll_interval must be positive")
	}
	if cfg.Memory.EmbeddingRetention < 0 {
		return fmt.Errorf("memory.embedding_retention must be >= 0, got %d", cfg.Memory.EmbeddingRetention)
	}
	names := make(map[string]bool, len(cfg.Notify.Sinks))
	for _, s := range cfg.Notify.Sinks {
		if s.Name == "" {
			return fmt.Errorf("notify sink without a name")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate notify sink %q", s.Name)
		}
		names[s.Name] = true
	}
	return nil
}
