package docqa

import "strings"

// Config DocQA 模块配置
type Config struct {
	// 索引与上传文件的落盘位置
	IndexPath string `json:"index_path"`
	UploadDir string `json:"upload_dir"`

	// Chunker 配置
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`

	// 问答配置
	DefaultTopK    int    `json:"default_top_k"`
	DefaultBackend string `json:"default_backend"`

	// 上传限制
	AllowedTypes []string `json:"allowed_types"` // 允许上传的扩展名
	MaxFileSize  int      `json:"max_file_size"` // 最大文件大小（MB）

	// Embedding
	EmbeddingModel          string `json:"embedding_model"`
	EmbeddingDims           int    `json:"embedding_dims"`
	EmbeddingBatchSize      int    `json:"embedding_batch_size"`
	EmbeddingTimeoutSeconds int    `json:"embedding_timeout_seconds"`

	// 补全超时
	CompletionTimeoutSeconds int `json:"completion_timeout_seconds"`

	// 答案缓存 TTL（秒），0=禁用
	CacheTTL int `json:"cache_ttl"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		IndexPath:                "vector_db/index.json",
		UploadDir:                "uploaded_files",
		ChunkSize:                500,
		ChunkOverlap:             50,
		DefaultTopK:              3,
		DefaultBackend:           "openai",
		AllowedTypes:             []string{".pdf", ".txt", ".md", ".docx"},
		MaxFileSize:              50,
		EmbeddingModel:           "text-embedding-3-small",
		EmbeddingDims:            1536,
		EmbeddingBatchSize:       64,
		EmbeddingTimeoutSeconds:  60,
		CompletionTimeoutSeconds: 120,
		CacheTTL:                 0,
	}
}

// TypeAllowed 扩展名是否在上传白名单内（忽略大小写，空白名单放行全部）
func (c *Config) TypeAllowed(ext string) bool {
	if len(c.AllowedTypes) == 0 {
		return true
	}
	for _, t := range c.AllowedTypes {
		if strings.EqualFold(t, ext) {
			return true
		}
	}
	return false
}

// HasCache 是否启用答案缓存
func (c *Config) HasCache() bool {
	return c.CacheTTL > 0
}
