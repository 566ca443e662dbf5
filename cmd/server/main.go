package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	hfllm "docqa/internal/adapter/provider/llm/huggingface"
	openaillm "docqa/internal/adapter/provider/llm/openai"
	"docqa/internal/api"
	"docqa/internal/db/flatindex"
	redisdb "docqa/internal/db/redis"
	"docqa/internal/domain/docqa"
	"docqa/internal/platform/config"
	applog "docqa/internal/platform/log"
	"docqa/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	providers := buildProviderRegistry(cfg)

	embedder := docqa.NewOpenAIEmbedder(docqa.OpenAIEmbedderConfig{
		BaseURL:        cfg.OpenAI.BaseURL,
		APIKey:         cfg.OpenAI.APIKey,
		Model:          cfg.DocQA.EmbeddingModel,
		Dims:           cfg.DocQA.EmbeddingDims,
		BatchSize:      cfg.DocQA.EmbeddingBatchSize,
		TimeoutSeconds: cfg.DocQA.EmbeddingTimeoutSeconds,
	})
	applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", cfg.DocQA.EmbeddingModel, embedder.Dims())

	storage := flatindex.NewStorage(cfg.DocQA.IndexPath)
	store := docqa.NewStore(storage)

	// 已有快照则启动时加载，维度与 Embedding 配置不符直接失败：
	// 带着错误维度跑下去，每次检索都会答非所问。
	if storage.Exists() {
		idx, err := storage.Load()
		if err != nil {
			applog.Fatalf("❌ Failed to load index snapshot %s: %v", cfg.DocQA.IndexPath, err)
		}
		if idx.Dims() != embedder.Dims() {
			applog.Fatalf("❌ Index dimensionality mismatch: snapshot has %d dims, embedding model %s produces %d",
				idx.Dims(), cfg.DocQA.EmbeddingModel, embedder.Dims())
		}
		store.Set(idx)
		applog.Infof("✅ Index snapshot loaded (%d entries, %d dims)", idx.Len(), idx.Dims())
	} else {
		applog.Info("ℹ️  No index snapshot found, starting empty", "path", cfg.DocQA.IndexPath)
	}

	extractors := docqa.NewExtractorRegistry()
	applog.Infof("✅ Extractor registry initialized (types: %s)", extractors.SupportedTypes())

	ingestor := docqa.NewIngestor(extractors, embedder, store, &cfg.DocQA)
	answerer := docqa.NewAnswerer(store, embedder, providers, &cfg.DocQA)

	if cfg.DocQA.HasCache() && cfg.Redis.URL != "" {
		if opt, err := goredis.ParseURL(cfg.Redis.URL); err == nil {
			cache := redisdb.NewAnswerCache(goredis.NewClient(opt), cfg.DocQA.CacheTTL)
			answerer.SetCache(cache)
			ingestor.SetCache(cache)
			applog.Infof("✅ Answer cache initialized (TTL: %ds)", cfg.DocQA.CacheTTL)
		} else {
			applog.Warnf("⚠️  Redis URL invalid, answer cache disabled: %v", err)
		}
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	server := api.NewServer(serverConfig, ingestor, answerer, store, &cfg.DocQA)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Error("❌ Server shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

// buildProviderRegistry 注册所有补全后端。
// llama 复用 OpenAI 兼容适配器，指向本地 llama.cpp/Ollama 服务。
func buildProviderRegistry(cfg *config.AppConfig) *provider.Registry {
	registry := provider.NewRegistry()

	registry.Register(openaillm.New(openaillm.Config{
		Name:    "openai",
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
	}))

	registry.Register(openaillm.New(openaillm.Config{
		Name:    "llama",
		BaseURL: cfg.Llama.BaseURL,
		Model:   cfg.Llama.Model,
	}))

	registry.Register(hfllm.New(hfllm.Config{
		APIKey: cfg.HF.APIKey,
		Model:  cfg.HF.Model,
	}))

	applog.Infof("✅ Completion backends registered: %v", registry.List())
	return registry
}
