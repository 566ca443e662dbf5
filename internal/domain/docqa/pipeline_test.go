package docqa_test

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"docqa/internal/db/flatindex"
	"docqa/internal/domain/docqa"
	"docqa/internal/provider"
)

// wordEmbedder 词袋哈希 Embedding：同词同维，确定性，余弦相似度可用
type wordEmbedder struct {
	dims int
	err  error
}

func (w *wordEmbedder) Dims() int { return w.dims }

func (w *wordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, w.dims)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			v[h.Sum32()%uint32(w.dims)]++
		}
		out[i] = v
	}
	return out, nil
}

// cannedLLM 记录请求并返回固定答案
type cannedLLM struct {
	name    string
	answer  string
	err     error
	mu      sync.Mutex
	lastReq *provider.CompletionRequest
	calls   int
}

func (c *cannedLLM) Name() string { return c.name }

func (c *cannedLLM) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	c.mu.Lock()
	c.lastReq = req
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &provider.CompletionResponse{Content: c.answer, FinishReason: "stop"}, nil
}

// memCache 内存版答案缓存
type memCache struct {
	mu      sync.Mutex
	data    map[string]string
	flushes int
}

func newMemCache() *memCache { return &memCache{data: make(map[string]string)} }

func (m *memCache) Get(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memCache) Set(ctx context.Context, key, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = answer
}

func (m *memCache) InvalidateAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
	m.flushes++
}

type pipelineFixture struct {
	ingestor *docqa.Ingestor
	answerer *docqa.Answerer
	store    *docqa.Store
	llm      *cannedLLM
	embedder *wordEmbedder
	dir      string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()

	cfg := docqa.DefaultConfig()
	cfg.IndexPath = filepath.Join(dir, "index.json")
	cfg.UploadDir = filepath.Join(dir, "uploads")
	cfg.ChunkSize = 100
	cfg.ChunkOverlap = 10

	embedder := &wordEmbedder{dims: 32}
	store := docqa.NewStore(flatindex.NewStorage(cfg.IndexPath))

	llm := &cannedLLM{name: "openai", answer: "canned answer"}
	providers := provider.NewRegistry()
	providers.Register(llm)

	return &pipelineFixture{
		ingestor: docqa.NewIngestor(docqa.NewExtractorRegistry(), embedder, store, cfg),
		answerer: docqa.NewAnswerer(store, embedder, providers, cfg),
		store:    store,
		llm:      llm,
		embedder: embedder,
		dir:      dir,
	}
}

func (f *pipelineFixture) writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestIngestHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	path := f.writeDoc(t, "doc.txt", "This is a test document about vector search.")

	result, err := f.ingestor.Ingest(context.Background(), path)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if result.Filename != "doc.txt" {
		t.Fatalf("Filename = %q, want doc.txt", result.Filename)
	}
	if result.ChunkCount < 1 {
		t.Fatalf("ChunkCount = %d, want >= 1", result.ChunkCount)
	}
	if result.DocID == "" {
		t.Fatal("DocID is empty")
	}

	idx := f.store.Get()
	if idx == nil || idx.Len() != result.ChunkCount {
		t.Fatalf("index should hold all %d chunks", result.ChunkCount)
	}

	// 检索能找回刚入库的内容
	vecs, err := f.embedder.Embed(context.Background(), []string{"test document"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	hits := idx.Search(vecs[0], 1)
	if len(hits) != 1 {
		t.Fatalf("Search returned %d hits, want 1", len(hits))
	}
	if !strings.Contains(hits[0].Chunk.Text, "test document") {
		t.Fatalf("top hit %q should contain the ingested text", hits[0].Chunk.Text)
	}

	// 快照已落盘
	if _, err := os.Stat(filepath.Join(f.dir, "index.json")); err != nil {
		t.Fatalf("snapshot not persisted: %v", err)
	}
}

func TestIngestFailuresAreAllOrNothing(t *testing.T) {
	f := newPipelineFixture(t)

	tests := []struct {
		name     string
		setup    func() string
		embedErr error
		wantLoad bool
	}{
		{
			name:     "empty file",
			setup:    func() string { return f.writeDoc(t, "empty.txt", "") },
			wantLoad: true,
		},
		{
			name:     "missing file",
			setup:    func() string { return filepath.Join(f.dir, "nope.txt") },
			wantLoad: true,
		},
		{
			name:     "embedding failure",
			setup:    func() string { return f.writeDoc(t, "ok.txt", "some real content here") },
			embedErr: &docqa.ProviderError{Provider: "embedding", Op: "embed", Err: errors.New("service down")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.embedder.err = tt.embedErr
			defer func() { f.embedder.err = nil }()

			_, err := f.ingestor.Ingest(context.Background(), tt.setup())
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var loadErr *docqa.LoadError
			if got := errors.As(err, &loadErr); got != tt.wantLoad {
				t.Fatalf("LoadError = %v, want %v (err: %v)", got, tt.wantLoad, err)
			}

			// 任一步失败都不得留下部分入库的块
			if idx := f.store.Get(); idx != nil && idx.Len() != 0 {
				t.Fatalf("index holds %d chunks after failed ingest, want 0", idx.Len())
			}
		})
	}
}

func TestIngestConcurrentUploads(t *testing.T) {
	f := newPipelineFixture(t)

	const n = 4
	paths := make([]string, n)
	for i := range paths {
		paths[i] = f.writeDoc(t, fmt.Sprintf("doc%d.txt", i),
			fmt.Sprintf("document number %d with its own content", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]*docqa.IngestResult, n)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.ingestor.Ingest(context.Background(), paths[i])
		}(i)
	}
	wg.Wait()

	total := 0
	for i := range paths {
		if errs[i] != nil {
			t.Fatalf("ingest %d failed: %v", i, errs[i])
		}
		total += results[i].ChunkCount
	}

	// 并发写互不覆盖：所有文件的块都在
	idx := f.store.Get()
	if idx.Len() != total {
		t.Fatalf("index holds %d chunks, want %d", idx.Len(), total)
	}
	if docs := idx.Documents(); len(docs) != n {
		t.Fatalf("Documents returned %d entries, want %d", len(docs), n)
	}

	// 落盘快照与常驻索引一致
	reader := docqa.NewStore(flatindex.NewStorage(filepath.Join(f.dir, "index.json")))
	if err := reader.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if got := reader.Get().Len(); got != total {
		t.Fatalf("snapshot holds %d chunks, want %d", got, total)
	}
}

func TestAnswerEmptyIndex(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.answerer.Answer(context.Background(), "anything?", 0, "")
	if !errors.Is(err, docqa.ErrEmptyIndex) {
		t.Fatalf("Answer on empty index = %v, want ErrEmptyIndex", err)
	}
}

func TestAnswerUnknownBackend(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.answerer.Answer(context.Background(), "anything?", 0, "mystery")
	if !errors.Is(err, provider.ErrProviderNotFound) {
		t.Fatalf("Answer = %v, want ErrProviderNotFound", err)
	}
	if !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("error %q should name the requested backend", err.Error())
	}
}

func TestAnswerBuildsGroundedPrompt(t *testing.T) {
	f := newPipelineFixture(t)
	path := f.writeDoc(t, "facts.txt", "The warehouse opens at nine in the morning. Deliveries arrive before noon.")
	if _, err := f.ingestor.Ingest(context.Background(), path); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	answer, err := f.answerer.Answer(context.Background(), "when does the warehouse open", 2, "openai")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != "canned answer" {
		t.Fatalf("answer = %q, want the backend's response", answer)
	}

	req := f.llm.lastReq
	if req == nil {
		t.Fatal("backend was never called")
	}
	if len(req.Messages) != 2 {
		t.Fatalf("request has %d messages, want system + user", len(req.Messages))
	}
	if req.Messages[0].Role != "system" {
		t.Fatalf("first message role = %q, want system", req.Messages[0].Role)
	}
	if !strings.Contains(req.Messages[0].Content, "Do not make up information") {
		t.Fatal("system message should carry the grounding instruction")
	}

	user := req.Messages[1]
	if user.Role != "user" {
		t.Fatalf("second message role = %q, want user", user.Role)
	}
	if !strings.Contains(user.Content, "warehouse opens at nine") {
		t.Fatal("user prompt should embed the retrieved context")
	}
	if !strings.Contains(user.Content, "source: facts.txt") {
		t.Fatal("user prompt should cite the chunk source")
	}
	if !strings.Contains(user.Content, "when does the warehouse open") {
		t.Fatal("user prompt should end with the question")
	}
}

func TestAnswerCaching(t *testing.T) {
	f := newPipelineFixture(t)
	cache := newMemCache()
	f.answerer.SetCache(cache)
	f.ingestor.SetCache(cache)

	path := f.writeDoc(t, "doc.txt", "Cached content about unicorns and rainbows.")
	if _, err := f.ingestor.Ingest(context.Background(), path); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		answer, err := f.answerer.Answer(context.Background(), "what about unicorns", 0, "")
		if err != nil {
			t.Fatalf("Answer %d failed: %v", i, err)
		}
		if answer != "canned answer" {
			t.Fatalf("answer %d = %q", i, answer)
		}
	}
	if f.llm.calls != 1 {
		t.Fatalf("backend called %d times, want 1 (cache should serve repeats)", f.llm.calls)
	}

	// 新文档入库后缓存整体失效
	path2 := f.writeDoc(t, "doc2.txt", "Fresh content changes the corpus.")
	if _, err := f.ingestor.Ingest(context.Background(), path2); err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if cache.flushes != 2 {
		t.Fatalf("cache flushed %d times, want 2 (once per ingest)", cache.flushes)
	}

	if _, err := f.answerer.Answer(context.Background(), "what about unicorns", 0, ""); err != nil {
		t.Fatalf("Answer after ingest failed: %v", err)
	}
	if f.llm.calls != 2 {
		t.Fatalf("backend called %d times, want 2 (ingest must invalidate cache)", f.llm.calls)
	}
}

func TestAnswerProviderFailureWrapped(t *testing.T) {
	f := newPipelineFixture(t)
	path := f.writeDoc(t, "doc.txt", "Some indexed content.")
	if _, err := f.ingestor.Ingest(context.Background(), path); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	f.llm.err = errors.New("upstream exploded")
	_, err := f.answerer.Answer(context.Background(), "anything?", 0, "openai")

	var provErr *docqa.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Answer = %v, want ProviderError", err)
	}
	if provErr.Provider != "openai" || provErr.Op != "complete" {
		t.Fatalf("ProviderError = %s/%s, want openai/complete", provErr.Provider, provErr.Op)
	}
}
