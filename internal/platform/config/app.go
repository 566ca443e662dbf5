package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"docqa/internal/domain/docqa"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string            `json:"log_level"`
	LogFormat string            `json:"log_format"`
	Server    ServerConfig      `json:"server"`
	Redis     RedisConfig       `json:"redis"`
	OpenAI    OpenAIConfig      `json:"openai"`
	Llama     LlamaConfig       `json:"llama"`
	HF        HuggingFaceConfig `json:"huggingface"`
	DocQA     docqa.Config      `json:"docqa"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// LlamaConfig 本地 OpenAI 兼容服务（llama.cpp / Ollama）
type LlamaConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

type HuggingFaceConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	qaCfg := docqa.DefaultConfig()
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 300,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Llama: LlamaConfig{
			BaseURL: "http://localhost:11434/v1",
			Model:   "llama3.1",
		},
		DocQA: *qaCfg,
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	applyString("OPENAI_MODEL", &c.OpenAI.Model)

	applyString("LLAMA_BASE_URL", &c.Llama.BaseURL)
	applyString("LLAMA_MODEL", &c.Llama.Model)

	applyString("HF_API_KEY", &c.HF.APIKey)
	applyString("HF_MODEL", &c.HF.Model)

	applyString("INDEX_PATH", &c.DocQA.IndexPath)
	applyString("UPLOAD_DIR", &c.DocQA.UploadDir)
	applyInt("CHUNK_SIZE", &c.DocQA.ChunkSize)
	applyInt("CHUNK_OVERLAP", &c.DocQA.ChunkOverlap)
	applyInt("DEFAULT_TOP_K", &c.DocQA.DefaultTopK)
	applyString("DEFAULT_BACKEND", &c.DocQA.DefaultBackend)
	if v := os.Getenv("ALLOWED_TYPES"); v != "" {
		var types []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
		c.DocQA.AllowedTypes = types
	}
	applyInt("MAX_FILE_SIZE", &c.DocQA.MaxFileSize)
	applyString("EMBEDDING_MODEL", &c.DocQA.EmbeddingModel)
	applyInt("EMBEDDING_DIMS", &c.DocQA.EmbeddingDims)
	applyInt("EMBEDDING_BATCH_SIZE", &c.DocQA.EmbeddingBatchSize)
	applyInt("EMBEDDING_TIMEOUT", &c.DocQA.EmbeddingTimeoutSeconds)
	applyInt("COMPLETION_TIMEOUT", &c.DocQA.CompletionTimeoutSeconds)
	applyInt("CACHE_TTL", &c.DocQA.CacheTTL)
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.DocQA.IndexPath) == "" {
		return fmt.Errorf("INDEX_PATH is required")
	}
	if strings.TrimSpace(c.DocQA.UploadDir) == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	if c.DocQA.ChunkOverlap >= c.DocQA.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)",
			c.DocQA.ChunkOverlap, c.DocQA.ChunkSize)
	}
	if c.DocQA.EmbeddingDims <= 0 {
		return fmt.Errorf("EMBEDDING_DIMS must be positive")
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}
