package docqa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	applog "docqa/internal/platform/log"
)

// Ingestor 文档入库 Pipeline：提取 → 分块 → Embedding → 追加索引 → 持久化。
// 单文件全有或全无：任何一步失败都不会留下部分入库的块。
type Ingestor struct {
	extractors *ExtractorRegistry
	chunker    *Chunker
	embedder   Embedder
	store      *Store
	cache      AnswerCacheStore // 可选：入库后清缓存
}

// NewIngestor 创建入库 Pipeline
func NewIngestor(extractors *ExtractorRegistry, embedder Embedder, store *Store, cfg *Config) *Ingestor {
	return &Ingestor{
		extractors: extractors,
		chunker:    NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder:   embedder,
		store:      store,
	}
}

// SetCache 设置答案缓存（入库后自动清除）
func (ing *Ingestor) SetCache(c AnswerCacheStore) {
	ing.cache = c
}

// Ingest 入库单个文件
func (ing *Ingestor) Ingest(ctx context.Context, filePath string) (*IngestResult, error) {
	start := time.Now()
	filename := filepath.Base(filePath)

	// 1. 提取文本
	f, err := os.Open(filePath)
	if err != nil {
		return nil, &LoadError{Filename: filename, Err: err}
	}
	extracted, err := ing.extractors.Get(filename).Extract(f, filename)
	f.Close()
	if err != nil {
		return nil, &LoadError{Filename: filename, Err: err}
	}
	if extracted.Content == "" {
		return nil, &LoadError{Filename: filename, Err: fmt.Errorf("no text content extracted")}
	}

	// 2. 分块
	texts := ing.chunker.Split(extracted.Content)
	if len(texts) == 0 {
		return nil, &LoadError{Filename: filename, Err: fmt.Errorf("no chunks produced")}
	}

	docID := uuid.New().String()
	now := time.Now()
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{
			DocID:     docID,
			Source:    filename,
			Seq:       i,
			Text:      t,
			CreatedAt: now,
		}
	}

	// 3. 批量 Embedding
	vectors, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	// 4. 写锁内追加、持久化并发布
	if err := ing.store.Update(ing.embedder.Dims(), func(idx VectorIndex) error {
		return idx.Add(chunks, vectors)
	}); err != nil {
		return nil, err
	}

	applog.Info("[DocQA] Document ingested",
		"doc_id", docID,
		"file", filename,
		"chunks", len(chunks),
		"pages", extracted.Pages,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	// 5. 入库后清除答案缓存
	if ing.cache != nil {
		ing.cache.InvalidateAll(ctx)
	}

	return &IngestResult{
		DocID:      docID,
		Filename:   filename,
		ChunkCount: len(chunks),
	}, nil
}
