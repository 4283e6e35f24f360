package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/khangdo/janus/internal/config"
	"github.com/khangdo/janus/internal/engine"
	"github.com/khangdo/janus/internal/llm"
	"github.com/khangdo/janus/internal/server"
	"github.com/khangdo/janus/internal/storage"
	"github.com/khangdo/janus/internal/storage/chromem"
	"github.com/khangdo/janus/internal/storage/postgres"
	"github.com/khangdo/janus/internal/storage/sqlite"
	"github.com/khangdo/janus/web/handlers"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (or JANUS_CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.ConversationPath), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	convLog, err := sqlite.NewConversationLog(cfg.Storage.ConversationPath)
	if err != nil {
		log.Fatalf("Failed to open conversation log: %v", err)
	}
	defer convLog.Close()

	embedder, err := llm.NewEmbeddingGenerator(providerConfig(cfg, ""), cfg.LLM.EmbeddingModel)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}

	semanticStore, err := newSemanticStore(cfg, embedder)
	if err != nil {
		log.Fatalf("Failed to open semantic store: %v", err)
	}
	defer semanticStore.Close()

	chatGen, err := llm.NewTextGenerator(providerConfig(cfg, cfg.LLM.ChatModel))
	if err != nil {
		log.Fatalf("Failed to create chat model: %v", err)
	}
	temporalGen, err := llm.NewTextGenerator(providerConfig(cfg, cfg.LLM.TemporalModel))
	if err != nil {
		log.Fatalf("Failed to create temporal model: %v", err)
	}
	memorizeGen, err := llm.NewTextGenerator(providerConfig(cfg, cfg.LLM.MemorizeModel))
	if err != nil {
		log.Fatalf("Failed to create memorize model: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline := engine.NewExtractionPipeline(engine.ExtractionConfig{
		QueueSize:  cfg.Memory.QueueSize,
		NumWorkers: cfg.Memory.NumWorkers,
		MaxRetries: cfg.Memory.MaxRetries,
	}, convLog, semanticStore, memorizeGen)

	chatEngine := engine.NewChatEngine(
		convLog,
		chatGen, memorizeGen,
		engine.NewTemporalSynthesizer(temporalGen, cfg.Memory.AllowContentProjection),
		engine.NewRelevanceFilter(embedder, cfg.Memory.RelevanceFloor),
		engine.NewSemanticRetriever(semanticStore, cfg.Memory.SemanticFloor),
		engine.NewRecencyReconciler(memorizeGen),
		pipeline,
		engine.ChatConfig{
			RecentTurns:     cfg.Memory.RecentTurns,
			SemanticResults: cfg.Memory.SemanticResults,
		},
	)

	addr, hub, err := server.Start(ctx, cfg, chatEngine, convLog, semanticStore, pipeline)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	pipeline.OnComplete(func(ev engine.ExtractionEvent) {
		hub.Broadcast(handlers.NewExtractedEvent(ev.TurnID, ev.FactsStored))
	})
	pipeline.Start(ctx)

	log.Printf("Janus running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if err := pipeline.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down extraction pipeline: %v", err)
	}

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

func providerConfig(cfg *config.Config, model string) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:    cfg.LLM.Provider,
		Model:       model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
	switch cfg.LLM.Provider {
	case "openai":
		pc.APIKey = cfg.LLM.OpenAIAPIKey
	case "anthropic":
		pc.APIKey = cfg.LLM.AnthropicAPIKey
	default:
		pc.BaseURL = cfg.LLM.OllamaURL
	}
	return pc
}

func newSemanticStore(cfg *config.Config, embedder llm.EmbeddingGenerator) (storage.SemanticStore, error) {
	switch cfg.Storage.SemanticEngine {
	case "postgres":
		return postgres.NewSemanticStore(postgres.Config{DSN: cfg.Storage.PostgresDSN}, embedder)
	case "chromem":
		return chromem.NewSemanticStore(chromem.Config{Path: cfg.Storage.SemanticPath}, embedder)
	default:
		return nil, fmt.Errorf("unknown semantic engine %q", cfg.Storage.SemanticEngine)
	}
}
