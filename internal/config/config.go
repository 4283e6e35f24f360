// Package config provides configuration management for Janus.
// Defaults are layered first, then an optional YAML file, then environment
// variables with the JANUS_ prefix. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the Janus application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"` // default: 127.0.0.1
	Port int    `yaml:"port"` // default: 7878
}

// StorageConfig selects and locates the two stores.
type StorageConfig struct {
	// ConversationPath is the sqlite file backing the conversation log.
	ConversationPath string `yaml:"conversation_path"`
	// SemanticEngine picks the vector store backend: chromem or postgres.
	SemanticEngine string `yaml:"semantic_engine"`
	// SemanticPath is the chromem persistence directory. Empty keeps the
	// store in memory.
	SemanticPath string `yaml:"semantic_path"`
	// PostgresDSN is the connection string when SemanticEngine is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig configures the model provider and the per-role models.
// Chat answers the user, Temporal translates time references into
// predicates, Memorize handles query rewriting and fact extraction.
type LLMConfig struct {
	Provider        string  `yaml:"provider"` // ollama, openai, anthropic
	OllamaURL       string  `yaml:"ollama_url"`
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	ChatModel       string  `yaml:"chat_model"`
	TemporalModel   string  `yaml:"temporal_model"`
	MemorizeModel   string  `yaml:"memorize_model"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
}

// MemoryConfig carries the retrieval and extraction tunables.
type MemoryConfig struct {
	RecentTurns     int     `yaml:"recent_turns"`
	SemanticResults int     `yaml:"semantic_results"`
	SemanticFloor   float64 `yaml:"semantic_floor"`
	RelevanceFloor  float64 `yaml:"relevance_floor"`
	// AllowContentProjection permits synthesized predicates to project the
	// content column. Off by default: raw content in a model-written query
	// widens the exposure surface.
	AllowContentProjection bool `yaml:"allow_content_projection"`
	QueueSize              int  `yaml:"queue_size"`
	NumWorkers             int  `yaml:"num_workers"`
	MaxRetries             int  `yaml:"max_retries"`
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	Mode     string `yaml:"mode"` // development or production
	APIToken string `yaml:"api_token"`
}

// Load builds the configuration. A non-empty path names a YAML file to
// layer over the defaults; environment variables override both.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("JANUS_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Security.Mode == "production" && c.Security.APIToken == "" {
		return errors.New("config: production mode requires an API token")
	}
	if c.Memory.SemanticFloor < 0 || c.Memory.SemanticFloor > 1 {
		return fmt.Errorf("config: semantic_floor %v out of range [0,1]", c.Memory.SemanticFloor)
	}
	if c.Memory.RelevanceFloor < 0 || c.Memory.RelevanceFloor > 1 {
		return fmt.Errorf("config: relevance_floor %v out of range [0,1]", c.Memory.RelevanceFloor)
	}
	switch c.Storage.SemanticEngine {
	case "chromem":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: postgres semantic engine requires a DSN")
		}
	default:
		return fmt.Errorf("config: unknown semantic engine %q", c.Storage.SemanticEngine)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7878,
		},
		Storage: StorageConfig{
			ConversationPath: "./data/conversations.db",
			SemanticEngine:   "chromem",
			SemanticPath:     "./data/semantic",
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			OllamaURL:      "http://localhost:11434",
			ChatModel:      "qwen2.5:7b",
			TemporalModel:  "qwen2.5:7b",
			MemorizeModel:  "qwen2.5:7b",
			EmbeddingModel: "nomic-embed-text",
			MaxTokens:      256,
			Temperature:    0.1,
		},
		Memory: MemoryConfig{
			RecentTurns:     10,
			SemanticResults: 6,
			SemanticFloor:   0.3,
			RelevanceFloor:  0.6,
			QueueSize:       100,
			NumWorkers:      2,
			MaxRetries:      3,
		},
		Security: SecurityConfig{
			Mode: "development",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("JANUS_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("JANUS_PORT", cfg.Server.Port)

	cfg.Storage.ConversationPath = getEnv("JANUS_CONVERSATION_PATH", cfg.Storage.ConversationPath)
	cfg.Storage.SemanticEngine = getEnv("JANUS_SEMANTIC_ENGINE", cfg.Storage.SemanticEngine)
	cfg.Storage.SemanticPath = getEnv("JANUS_SEMANTIC_PATH", cfg.Storage.SemanticPath)
	cfg.Storage.PostgresDSN = getEnv("JANUS_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.LLM.Provider = getEnv("JANUS_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.OllamaURL = getEnv("JANUS_OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.OpenAIAPIKey = getEnv("JANUS_OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.AnthropicAPIKey = getEnv("JANUS_ANTHROPIC_API_KEY", cfg.LLM.AnthropicAPIKey)
	cfg.LLM.ChatModel = getEnv("JANUS_CHAT_MODEL", cfg.LLM.ChatModel)
	cfg.LLM.TemporalModel = getEnv("JANUS_TEMPORAL_MODEL", cfg.LLM.TemporalModel)
	cfg.LLM.MemorizeModel = getEnv("JANUS_MEMORIZE_MODEL", cfg.LLM.MemorizeModel)
	cfg.LLM.EmbeddingModel = getEnv("JANUS_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.MaxTokens = getEnvInt("JANUS_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.Temperature = getEnvFloat("JANUS_TEMPERATURE", cfg.LLM.Temperature)

	cfg.Memory.RecentTurns = getEnvInt("JANUS_RECENT_TURNS", cfg.Memory.RecentTurns)
	cfg.Memory.SemanticResults = getEnvInt("JANUS_SEMANTIC_RESULTS", cfg.Memory.SemanticResults)
	cfg.Memory.SemanticFloor = getEnvFloat("JANUS_SEMANTIC_FLOOR", cfg.Memory.SemanticFloor)
	cfg.Memory.RelevanceFloor = getEnvFloat("JANUS_RELEVANCE_FLOOR", cfg.Memory.RelevanceFloor)
	cfg.Memory.AllowContentProjection = getEnvBool("JANUS_ALLOW_CONTENT_PROJECTION", cfg.Memory.AllowContentProjection)
	cfg.Memory.QueueSize = getEnvInt("JANUS_QUEUE_SIZE", cfg.Memory.QueueSize)
	cfg.Memory.NumWorkers = getEnvInt("JANUS_NUM_WORKERS", cfg.Memory.NumWorkers)
	cfg.Memory.MaxRetries = getEnvInt("JANUS_MAX_RETRIES", cfg.Memory.MaxRetries)

	cfg.Security.Mode = getEnv("JANUS_SECURITY_MODE", cfg.Security.Mode)
	cfg.Security.APIToken = getEnv("JANUS_API_TOKEN", cfg.Security.APIToken)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
