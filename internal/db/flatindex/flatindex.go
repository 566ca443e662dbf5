package flatindex

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"docqa/internal/domain/docqa"
)

// Index 内存中的向量索引：brute-force 余弦相似度，向量入库时做 L2 归一化。
// 只追加，不支持单条更新/删除。
type Index struct {
	mu      sync.RWMutex
	dims    int
	chunks  []docqa.Chunk
	vectors [][]float32
}

// New 创建空索引
func New(dims int) *Index {
	return &Index{dims: dims}
}

// Len 当前条目数
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Dims 向量维度
func (idx *Index) Dims() int {
	return idx.dims
}

// Add 追加一批 (chunk, vector)。任一向量维度不符则整批拒绝。
func (idx *Index) Add(chunks []docqa.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i, v := range vectors {
		if len(v) != idx.dims {
			return fmt.Errorf("%w: entry %d has %d dims, index has %d",
				docqa.ErrDimensionMismatch, i, len(v), idx.dims)
		}
	}

	for i := range chunks {
		idx.chunks = append(idx.chunks, chunks[i])
		idx.vectors = append(idx.vectors, normalize(vectors[i]))
	}
	return nil
}

// Search 返回与 query 最相似的至多 k 条结果，相似度降序。
// 相同分数按入库顺序先到先得；空索引返回空序列。
func (idx *Index) Search(query []float32, k int) []docqa.ScoredChunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.chunks) == 0 || k <= 0 {
		return nil
	}

	q := normalize(query)
	scored := make([]docqa.ScoredChunk, len(idx.chunks))
	for i := range idx.vectors {
		scored[i] = docqa.ScoredChunk{
			Chunk: idx.chunks[i],
			Score: dot(idx.vectors[i], q),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// Documents 按入库顺序汇总索引内的文档元信息
func (idx *Index) Documents() []docqa.DocumentInfo {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	byID := make(map[string]int)
	var docs []docqa.DocumentInfo
	for _, c := range idx.chunks {
		if i, ok := byID[c.DocID]; ok {
			docs[i].ChunkCount++
			continue
		}
		byID[c.DocID] = len(docs)
		docs = append(docs, docqa.DocumentInfo{
			DocID:      c.DocID,
			Filename:   c.Source,
			ChunkCount: 1,
			IngestedAt: c.CreatedAt,
		})
	}
	return docs
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// ── 持久化 ───────────────────────────────────────────────────

// snapshot 磁盘快照格式：整体读、整体写
type snapshot struct {
	Dims    int     `json:"dims"`
	Entries []entry `json:"entries"`
}

type entry struct {
	Chunk  docqa.Chunk `json:"chunk"`
	Vector []float32   `json:"vector"`
}

// Storage 固定路径的索引快照存储
type Storage struct {
	path string
}

// NewStorage 创建快照存储
func NewStorage(path string) *Storage {
	return &Storage{path: path}
}

// Exists 快照文件是否存在
func (s *Storage) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// ModTime 快照文件的修改时间
func (s *Storage) ModTime() (time.Time, bool) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Create 创建空索引
func (s *Storage) Create(dims int) docqa.VectorIndex {
	return New(dims)
}

// Load 从快照恢复索引
func (s *Storage) Load() (docqa.VectorIndex, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read index snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse index snapshot %s: %w", s.path, err)
	}

	idx := New(snap.Dims)
	for _, e := range snap.Entries {
		if len(e.Vector) != snap.Dims {
			return nil, fmt.Errorf("%w: snapshot entry for doc %s has %d dims, snapshot has %d",
				docqa.ErrDimensionMismatch, e.Chunk.DocID, len(e.Vector), snap.Dims)
		}
		// 快照中的向量已归一化，直接挂载
		idx.chunks = append(idx.chunks, e.Chunk)
		idx.vectors = append(idx.vectors, e.Vector)
	}
	return idx, nil
}

// Save 写出快照。先写临时文件再 rename，读方不会看到半成品。
func (s *Storage) Save(index docqa.VectorIndex) error {
	idx, ok := index.(*Index)
	if !ok {
		return fmt.Errorf("flatindex: unsupported index type %T", index)
	}

	idx.mu.RLock()
	snap := snapshot{
		Dims:    idx.dims,
		Entries: make([]entry, len(idx.chunks)),
	}
	for i := range idx.chunks {
		snap.Entries[i] = entry{Chunk: idx.chunks[i], Vector: idx.vectors[i]}
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal index snapshot: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("publish index snapshot: %w", err)
	}
	return nil
}
