package docqa

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ExtractorRegistry 文档提取器注册表。
// 未注册的扩展名落到兜底提取器，不因类型未知而失败。
type ExtractorRegistry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor // key = ".ext"
	fallback   Extractor
}

// NewExtractorRegistry 创建注册表并注册内置提取器
func NewExtractorRegistry() *ExtractorRegistry {
	r := &ExtractorRegistry{
		extractors: make(map[string]Extractor),
		fallback:   &PlainTextExtractor{},
	}

	r.Register(&PlainTextExtractor{})
	r.Register(&MarkdownExtractor{})
	r.Register(&PDFExtractor{})
	r.Register(&DOCXExtractor{})

	return r
}

// Register 注册提取器
func (r *ExtractorRegistry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range e.SupportedTypes() {
		r.extractors[strings.ToLower(ext)] = e
	}
}

// Get 根据文件名选择提取器，未知类型返回兜底提取器
func (r *ExtractorRegistry) Get(filename string) Extractor {
	ext := strings.ToLower(filepath.Ext(filename))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.extractors[ext]; ok {
		return e
	}
	return r.fallback
}

// SupportedTypes 返回所有已注册的文件扩展名
func (r *ExtractorRegistry) SupportedTypes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		types = append(types, ext)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}
