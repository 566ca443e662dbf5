package docqa

import (
	"strings"
	"unicode/utf8"
)

// Chunker 递归滑动窗口分块器。
// 优先在段落、换行、句子、空格处断开，最后才做硬字符切分。
type Chunker struct {
	chunkSize int // 每块最大字符数
	overlap   int // 相邻块重叠字符数
}

// 断点偏好顺序，从粗到细
var chunkSeparators = []string{"\n\n", "\n", ". ", " "}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 10
	}
	return &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

// Split 将文本切分为不超过 chunkSize 的块，相邻块带 overlap。
// 同样的输入与参数产出完全相同的块序列。
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}

	pieces := c.split(text, chunkSeparators)
	return c.merge(pieces)
}

// split 递归切分，保证每个 piece 不超过 chunkSize。
// 分隔符保留在 piece 尾部，合并后的块仍是原文的连续片段。
func (c *Chunker) split(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return c.hardCut(text)
	}

	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		// 当前分隔符不出现，降级到下一级
		return c.split(text, seps[1:])
	}

	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) > c.chunkSize {
			out = append(out, c.split(p, seps[1:])...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

// hardCut 无断点可用时按字符数硬切。
// 切出的 piece 预留 overlap 的余量，merge 在硬切块之间照常续上重叠。
func (c *Chunker) hardCut(text string) []string {
	step := c.chunkSize - c.overlap
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += step {
		end := i + step
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// merge 将 piece 贪心合并为不超过 chunkSize 的块，
// 块满时取尾部 overlap 个字符作为下一块开头。
func (c *Chunker) merge(pieces []string) []string {
	var chunks []string
	var current []rune

	flush := func() {
		if chunk := strings.TrimSpace(string(current)); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, p := range pieces {
		runes := []rune(p)
		if len(current) > 0 && len(current)+len(runes) > c.chunkSize {
			flush()
			// Overlap：保留前一块尾部
			tail := c.overlap
			if tail > len(current) {
				tail = len(current)
			}
			current = append([]rune(nil), current[len(current)-tail:]...)
			// 重叠加上新 piece 仍超限时裁掉重叠头部
			if over := len(current) + len(runes) - c.chunkSize; over > 0 {
				if over >= len(current) {
					current = current[:0]
				} else {
					current = current[over:]
				}
			}
		}
		current = append(current, runes...)
	}
	flush()

	return chunks
}
