package docqa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrEmptyIndex 尚未入库任何文档
	ErrEmptyIndex = errors.New("vector index is empty: upload documents first")

	// ErrDimensionMismatch 向量维度与索引维度不一致
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// LoadError 文档读取/解析失败（文件损坏、编码不可读等）
type LoadError struct {
	Filename string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load document %s: %v", e.Filename, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ProviderError 调用外部 Embedding/LLM 服务失败。
// 保留状态码与底层错误，调用方可区分瞬时故障与永久故障。
type ProviderError struct {
	Provider   string // "embedding" 或补全后端名
	Op         string // "embed" | "complete"
	StatusCode int    // 0 表示未收到响应
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Timeout 请求是否因超时失败
func (e *ProviderError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Temporary 是否为瞬时故障（重试可能成功）。核心不做重试，只给上层判断依据。
func (e *ProviderError) Temporary() bool {
	if e.Timeout() {
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr)
}
