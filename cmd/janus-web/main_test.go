package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khangdo/janus/internal/config"
)

func TestProviderConfigPerProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.OllamaURL = "http://localhost:11434"
	cfg.LLM.OpenAIAPIKey = "sk-test"
	cfg.LLM.AnthropicAPIKey = "ak-test"
	cfg.LLM.MaxTokens = 256
	cfg.LLM.Temperature = 0.1

	cfg.LLM.Provider = "ollama"
	pc := providerConfig(cfg, "qwen2.5:7b")
	assert.Equal(t, "http://localhost:11434", pc.BaseURL)
	assert.Empty(t, pc.APIKey)
	assert.Equal(t, "qwen2.5:7b", pc.Model)
	assert.Equal(t, 256, pc.MaxTokens)

	cfg.LLM.Provider = "openai"
	pc = providerConfig(cfg, "gpt-4o-mini")
	assert.Equal(t, "sk-test", pc.APIKey)

	cfg.LLM.Provider = "anthropic"
	pc = providerConfig(cfg, "claude-3-5-haiku-20241022")
	assert.Equal(t, "ak-test", pc.APIKey)
}

func TestNewSemanticStoreUnknownEngine(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.SemanticEngine = "faiss"

	_, err := newSemanticStore(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "faiss")
}
