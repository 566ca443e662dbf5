package docqa

import (
	"context"
	"time"
)

// VectorIndex is the append-only store of (chunk, vector) pairs queryable by
// nearest-neighbor similarity.
type VectorIndex interface {
	Len() int
	Dims() int
	Add(chunks []Chunk, vectors [][]float32) error
	Search(query []float32, k int) []ScoredChunk
	Documents() []DocumentInfo
}

// IndexStorage handles durable persistence of a VectorIndex at a fixed
// location: wholesale load, wholesale rewrite.
type IndexStorage interface {
	Exists() bool
	Create(dims int) VectorIndex
	Load() (VectorIndex, error)
	Save(idx VectorIndex) error
	ModTime() (time.Time, bool)
}

// AnswerCacheStore defines cache operations required by Answerer/Ingestor.
type AnswerCacheStore interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, answer string)
	InvalidateAll(ctx context.Context)
}
