package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TATER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "model.provider", typ: kString, env: "TATER_MODEL_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Model.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Provider },
	},
	{
		key: "model.chat_model", typ: kString, env: "TATER_MODEL_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Model.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.ChatModel },
	},
	{
		key: "model.embed_model", typ: kString, env: "TATER_MODEL_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Model.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.EmbedModel },
	},
	{
		key: "ollama.base_url", typ: kString, env: "TATER_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.base_url", typ: kString, env: "TATER_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "TATER_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TATER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "memory.recent_turns", typ: kInt, env: "TATER_MEMORY_RECENT_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Memory.RecentTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.RecentTurns },
	},
	{
		key: "memory.recall_top_k", typ: kInt, env: "TATER_MEMORY_RECALL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Memory.RecallTopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.RecallTopK },
	},
	{
		key: "memory.embedding_retention", typ: kInt, env: "TATER_MEMORY_EMBEDDING_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Memory.EmbeddingRetention = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.EmbeddingRetention },
	},
	{
		key: "memory.max_stored_turns", typ: kInt, env: "TATER_MEMORY_MAX_STORED_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxStoredTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxStoredTurns },
	},
	{
		key: "memory.max_context_chars", typ: kInt, env: "TATER_MEMORY_MAX_CONTEXT_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxContextChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxContextChars },
	},
	{
		key: "orchestrator.max_iterations", typ: kInt, env: "TATER_ORCHESTRATOR_MAX_ITERATIONS",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.MaxIterations = v.(int) },
		extract: func(cfg Config) any { return cfg.Orchestrator.MaxIterations },
	},
	{
		key: "orchestrator.tool_timeout", typ: kDuration, env: "TATER_ORCHESTRATOR_TOOL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.ToolTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Orchestrator.ToolTimeout },
	},
	{
		key: "orchestrator.model_timeout", typ: kDuration, env: "TATER_ORCHESTRATOR_MODEL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.ModelTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Orchestrator.ModelTimeout },
	},
	{
		key: "feeds.tick", typ: kDuration, env: "TATER_FEEDS_TICK",
		apply:   func(cfg *Config, v any) { cfg.Feeds.Tick = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Feeds.Tick },
	},
	{
		key: "feeds.poll_interval", typ: kDuration, env: "TATER_FEEDS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Feeds.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Feeds.PollInterval },
	},
	{
		key: "feeds.max_backoff", typ: kDuration, env: "TATER_FEEDS_MAX_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Feeds.MaxBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Feeds.MaxBackoff },
	},
	{
		key: "feeds.max_concurrent_polls", typ: kInt, env: "TATER_FEEDS_MAX_CONCURRENT_POLLS",
		apply:   func(cfg *Config, v any) { cfg.Feeds.MaxConcurrentPolls = v.(int) },
		extract: func(cfg Config) any { return cfg.Feeds.MaxConcurrentPolls },
	},
	{
		key: "feeds.seen_retention", typ: kInt, env: "TATER_FEEDS_SEEN_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Feeds.SeenRetention = v.(int) },
		extract: func(cfg Config) any { return cfg.Feeds.SeenRetention },
	},
	{
		key: "feeds.fetch_timeout", typ: kDuration, env: "TATER_FEEDS_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Feeds.FetchTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Feeds.FetchTimeout },
	},
	{
		key: "notify.timeout", typ: kDuration, env: "TATER_NOTIFY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Notify.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Notify.Timeout },
	},
	{
		key: "notify.max_message_length", typ: kInt, env: "TATER_NOTIFY_MAX_MESSAGE_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Notify.MaxMessageLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.MaxMessageLength },
	},
	{
		key: "log.level", typ: kString, env: "TATER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool, kFloat, kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("duration must be positive")
		}
		return d, nil
	default:
		return raw, nil
	}
}
