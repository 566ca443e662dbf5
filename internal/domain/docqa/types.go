package docqa

import "time"

// Chunk 文档分块后的最小检索单元
type Chunk struct {
	DocID     string    `json:"doc_id"`
	Source    string    `json:"source"` // 原始文件名
	Seq       int       `json:"seq"`    // 文档内顺序位置
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredChunk 单条检索结果
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// DocumentInfo 已入库文档的元信息（由索引快照推导）
type DocumentInfo struct {
	DocID      string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// IngestResult 入库结果
type IngestResult struct {
	DocID      string `json:"doc_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
}
