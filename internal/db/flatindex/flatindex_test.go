package flatindex

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docqa/internal/domain/docqa"
)

func mkChunk(docID, source string, seq int, text string) docqa.Chunk {
	return docqa.Chunk{
		DocID:     docID,
		Source:    source,
		Seq:       seq,
		Text:      text,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestIndexSearchEmpty(t *testing.T) {
	idx := New(3)

	if got := idx.Search([]float32{1, 0, 0}, 5); got != nil {
		t.Fatalf("Search on empty index = %v, want nil", got)
	}
	if got := idx.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
}

func TestIndexAddDimensionMismatch(t *testing.T) {
	idx := New(3)

	chunks := []docqa.Chunk{
		mkChunk("d1", "a.txt", 0, "first"),
		mkChunk("d1", "a.txt", 1, "second"),
	}
	vectors := [][]float32{
		{1, 0, 0},
		{1, 0}, // 错误维度
	}

	err := idx.Add(chunks, vectors)
	if !errors.Is(err, docqa.ErrDimensionMismatch) {
		t.Fatalf("Add = %v, want ErrDimensionMismatch", err)
	}
	// 整批拒绝：合法的第一条也不能入库
	if got := idx.Len(); got != 0 {
		t.Fatalf("Len = %d after rejected batch, want 0", got)
	}
}

func TestIndexSearchOrdering(t *testing.T) {
	idx := New(2)

	chunks := []docqa.Chunk{
		mkChunk("d1", "a.txt", 0, "east"),
		mkChunk("d1", "a.txt", 1, "north"),
		mkChunk("d1", "a.txt", 2, "northeast"),
	}
	vectors := [][]float32{
		{1, 0},
		{0, 1},
		{1, 1},
	}
	if err := idx.Add(chunks, vectors); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got := idx.Search([]float32{1, 0.1}, 2)
	if len(got) != 2 {
		t.Fatalf("Search returned %d results, want 2", len(got))
	}
	if got[0].Chunk.Text != "east" {
		t.Fatalf("top result = %q, want east", got[0].Chunk.Text)
	}
	if got[1].Chunk.Text != "northeast" {
		t.Fatalf("second result = %q, want northeast", got[1].Chunk.Text)
	}
	if got[0].Score < got[1].Score {
		t.Fatal("results must be in descending score order")
	}
}

func TestIndexSearchTiesFavorInsertionOrder(t *testing.T) {
	idx := New(2)

	chunks := []docqa.Chunk{
		mkChunk("d1", "a.txt", 0, "first"),
		mkChunk("d1", "a.txt", 1, "second"),
	}
	// 归一化后两条向量相同，分数必然打平
	vectors := [][]float32{
		{2, 0},
		{5, 0},
	}
	if err := idx.Add(chunks, vectors); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got := idx.Search([]float32{1, 0}, 2)
	if got[0].Chunk.Text != "first" || got[1].Chunk.Text != "second" {
		t.Fatalf("tie order = [%s, %s], want insertion order [first, second]",
			got[0].Chunk.Text, got[1].Chunk.Text)
	}
}

func TestIndexSearchKLargerThanSize(t *testing.T) {
	idx := New(2)

	if err := idx.Add(
		[]docqa.Chunk{mkChunk("d1", "a.txt", 0, "only")},
		[][]float32{{1, 0}},
	); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got := idx.Search([]float32{1, 0}, 10)
	if len(got) != 1 {
		t.Fatalf("Search returned %d results, want all 1", len(got))
	}
	if got := idx.Search([]float32{1, 0}, 0); got != nil {
		t.Fatalf("Search with k=0 = %v, want nil", got)
	}
}

func TestIndexScoresAreCosine(t *testing.T) {
	idx := New(2)

	if err := idx.Add(
		[]docqa.Chunk{mkChunk("d1", "a.txt", 0, "diagonal")},
		[][]float32{{3, 3}}, // 未归一化入参
	); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got := idx.Search([]float32{1, 0}, 1)
	want := 1 / math.Sqrt2
	if math.Abs(got[0].Score-want) > 1e-5 {
		t.Fatalf("Score = %f, want cos(45°) = %f", got[0].Score, want)
	}
}

func TestIndexDocuments(t *testing.T) {
	idx := New(2)

	chunks := []docqa.Chunk{
		mkChunk("d1", "a.txt", 0, "a0"),
		mkChunk("d1", "a.txt", 1, "a1"),
		mkChunk("d2", "b.md", 0, "b0"),
	}
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	if err := idx.Add(chunks, vectors); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	docs := idx.Documents()
	if len(docs) != 2 {
		t.Fatalf("Documents returned %d entries, want 2", len(docs))
	}
	if docs[0].DocID != "d1" || docs[0].ChunkCount != 2 || docs[0].Filename != "a.txt" {
		t.Fatalf("docs[0] = %+v, want d1/a.txt with 2 chunks", docs[0])
	}
	if docs[1].DocID != "d2" || docs[1].ChunkCount != 1 {
		t.Fatalf("docs[1] = %+v, want d2 with 1 chunk", docs[1])
	}
}

func TestStorageSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector_db", "index.json")
	storage := NewStorage(path)

	if storage.Exists() {
		t.Fatal("Exists = true before first save")
	}
	if _, ok := storage.ModTime(); ok {
		t.Fatal("ModTime should report absence before first save")
	}

	idx := New(3)
	chunks := []docqa.Chunk{
		mkChunk("d1", "a.txt", 0, "hello"),
		mkChunk("d1", "a.txt", 1, "world"),
	}
	vectors := [][]float32{{1, 2, 3}, {4, 5, 6}}
	if err := idx.Add(chunks, vectors); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := storage.Save(idx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !storage.Exists() {
		t.Fatal("Exists = false after save")
	}

	loaded, err := storage.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Len() != 2 || loaded.Dims() != 3 {
		t.Fatalf("loaded index = %d entries / %d dims, want 2 / 3", loaded.Len(), loaded.Dims())
	}

	// 重新加载后的检索结果与原索引一致
	query := []float32{1, 2, 3}
	before := idx.Search(query, 2)
	after := loaded.Search(query, 2)
	for i := range before {
		if before[i].Chunk.Text != after[i].Chunk.Text {
			t.Fatalf("result %d differs after reload: %q vs %q", i, before[i].Chunk.Text, after[i].Chunk.Text)
		}
		if math.Abs(before[i].Score-after[i].Score) > 1e-6 {
			t.Fatalf("score %d differs after reload: %f vs %f", i, before[i].Score, after[i].Score)
		}
	}
}

func TestStorageLoadRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	storage := NewStorage(path)

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, err := storage.Load(); err == nil {
		t.Fatal("Load on corrupt snapshot should fail")
	}
}

func TestStoreRefreshSeesWriterUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")

	// 两个 Store 句柄共用一个快照文件，模拟同机多进程
	writer := docqa.NewStore(NewStorage(path))
	reader := docqa.NewStore(NewStorage(path))

	err := writer.Update(2, func(idx docqa.VectorIndex) error {
		return idx.Add(
			[]docqa.Chunk{mkChunk("d1", "a.txt", 0, "hello")},
			[][]float32{{1, 0}},
		)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := reader.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	idx := reader.Get()
	if idx == nil || idx.Len() != 1 {
		t.Fatal("reader should see the writer's snapshot after Refresh")
	}

	// mtime 精度兜底：确保第二次写入的时间戳晚于第一次
	time.Sleep(10 * time.Millisecond)

	err = writer.Update(2, func(idx docqa.VectorIndex) error {
		return idx.Add(
			[]docqa.Chunk{mkChunk("d2", "b.txt", 0, "world")},
			[][]float32{{0, 1}},
		)
	})
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}

	if err := reader.Refresh(); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	if got := reader.Get().Len(); got != 2 {
		t.Fatalf("reader Len = %d after second Refresh, want 2", got)
	}
}
