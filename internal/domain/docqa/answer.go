package docqa

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	applog "docqa/internal/platform/log"
	"docqa/internal/provider"
)

// systemInstruction 接地提示模板：只依据提供的上下文作答。
const systemInstruction = "You are a proactive and friendly AI assistant helping users understand their documents. " +
	"You answer questions based on the provided context, but you also think ahead: " +
	"- If information is missing, point it out clearly and suggest what the user could do. " +
	"- If the question is unclear, ask clarifying questions. " +
	"- If the answer requires explanation, provide a detailed but understandable response. " +
	"- Suggest relevant next steps, improvements, or warnings if needed. " +
	"Do not make up information. If the context doesn't contain the answer, say you don't know."

// Answerer 检索增强问答：检索 top-k 相关块，拼接接地提示，交给补全后端。
type Answerer struct {
	store     *Store
	embedder  Embedder
	providers *provider.Registry
	config    *Config
	cache     AnswerCacheStore // 可选
}

// NewAnswerer 创建问答服务
func NewAnswerer(store *Store, embedder Embedder, providers *provider.Registry, cfg *Config) *Answerer {
	return &Answerer{
		store:     store,
		embedder:  embedder,
		providers: providers,
		config:    cfg,
	}
}

// SetCache 设置答案缓存
func (a *Answerer) SetCache(c AnswerCacheStore) {
	a.cache = c
}

// Answer 回答一个问题。
// k <= 0 使用默认 top-k，backend 为空使用默认后端。
// 尚无任何已入库文档时返回 ErrEmptyIndex。
func (a *Answerer) Answer(ctx context.Context, question string, k int, backend string) (string, error) {
	if k <= 0 {
		k = a.config.DefaultTopK
	}
	if backend == "" {
		backend = a.config.DefaultBackend
	}

	// 后端名先行校验：配置错误不应消耗一次 Embedding 调用
	llm, err := a.providers.Get(backend)
	if err != nil {
		return "", err
	}

	// 查询前对齐磁盘最新快照（同机多进程写入场景）
	if err := a.store.Refresh(); err != nil {
		applog.Warn("[DocQA] Index refresh failed, serving resident snapshot", "error", err)
	}
	idx := a.store.Get()
	if idx == nil || idx.Len() == 0 {
		return "", ErrEmptyIndex
	}

	// 答案缓存
	cacheKey := a.cacheKey(question, k, backend, idx.Len())
	if a.cache != nil {
		if answer, ok := a.cache.Get(ctx, cacheKey); ok {
			return answer, nil
		}
	}

	start := time.Now()

	// 1. 问题向量化
	vectors, err := a.embedder.Embed(ctx, []string{question})
	if err != nil {
		return "", err
	}

	// 2. 检索 top-k
	results := idx.Search(vectors[0], k)

	// 3. 组装接地提示并调用补全后端
	req := &provider.CompletionRequest{
		Messages: []provider.Message{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: buildUserPrompt(results, question)},
		},
	}

	completionCtx := ctx
	if a.config.CompletionTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		completionCtx, cancel = context.WithTimeout(ctx, time.Duration(a.config.CompletionTimeoutSeconds)*time.Second)
		defer cancel()
	}

	resp, err := llm.Complete(completionCtx, req)
	if err != nil {
		return "", &ProviderError{Provider: backend, Op: "complete", Err: err}
	}

	applog.Info("[DocQA] Question answered",
		"backend", backend,
		"top_k", k,
		"retrieved", len(results),
		"tokens", resp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	answer := strings.TrimSpace(resp.Content)
	if a.cache != nil && answer != "" {
		a.cache.Set(ctx, cacheKey, answer)
	}
	return answer, nil
}

// buildUserPrompt 拼接检索上下文与问题
func buildUserPrompt(results []ScoredChunk, question string) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("[%d] ", i+1))
		sb.WriteString(r.Chunk.Text)
		sb.WriteString(fmt.Sprintf("\n(source: %s, chunk %d)\n\n", r.Chunk.Source, r.Chunk.Seq))
	}
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	return sb.String()
}

// cacheKey 答案缓存 key = hash(question|k|backend|index 大小)
func (a *Answerer) cacheKey(question string, k int, backend string, indexLen int) string {
	raw := fmt.Sprintf("%s|%d|%s|%d", question, k, backend, indexLen)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", hash[:12])
}
