package docqa

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	applog "docqa/internal/platform/log"
)

// ── Extractor 接口 ───────────────────────────────────────────

// ExtractResult 文档文本提取结果
type ExtractResult struct {
	Content string `json:"content"`
	Pages   int    `json:"pages,omitempty"`
}

// Extractor 文档文本提取器接口
type Extractor interface {
	// Extract 提取文档纯文本内容
	Extract(reader io.Reader, filename string) (*ExtractResult, error)
	// SupportedTypes 支持的文件扩展名
	SupportedTypes() []string
}

// ── Plain Text Extractor ─────────────────────────────────────

// PlainTextExtractor 纯文本提取，同时是未知类型的兜底提取器
type PlainTextExtractor struct{}

func (p *PlainTextExtractor) SupportedTypes() []string {
	return []string{".txt", ".text", ".csv", ".log"}
}

func (p *PlainTextExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("file %s is not valid UTF-8 text", filename)
	}
	return &ExtractResult{Content: strings.TrimSpace(string(data))}, nil
}

// ── Markdown Extractor ───────────────────────────────────────

// MarkdownExtractor 去除 Markdown 结构标记，保留正文
type MarkdownExtractor struct{}

var (
	reMarkdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reMarkdownBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reMarkdownItalic = regexp.MustCompile(`\*(.+?)\*`)
	reMarkdownCode   = regexp.MustCompile("```[\\s\\S]*?```")
	reMarkdownInline = regexp.MustCompile("`([^`]+)`")
	reMarkdownLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reMarkdownImage  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reMarkdownHTML   = regexp.MustCompile(`<[^>]+>`)
)

func (m *MarkdownExtractor) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}

func (m *MarkdownExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("file %s is not valid UTF-8 text", filename)
	}

	text := string(data)

	// 去除代码块标记但保留代码内容
	text = reMarkdownCode.ReplaceAllStringFunc(text, func(s string) string {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(s, "```")
		return strings.TrimSpace(s)
	})

	text = reMarkdownImage.ReplaceAllString(text, "$1")
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reMarkdownBold.ReplaceAllString(text, "$1")
	text = reMarkdownItalic.ReplaceAllString(text, "$1")
	text = reMarkdownInline.ReplaceAllString(text, "$1")
	text = reMarkdownHeader.ReplaceAllString(text, "")
	text = reMarkdownHTML.ReplaceAllString(text, "")

	return &ExtractResult{Content: strings.TrimSpace(cleanExtraNewlines(text))}, nil
}

// ── PDF Extractor ────────────────────────────────────────────

// PDFExtractor 逐页提取 PDF 文本
type PDFExtractor struct{}

func (p *PDFExtractor) SupportedTypes() []string {
	return []string{".pdf"}
}

func (p *PDFExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	// pdf 库需要 io.ReaderAt + size，先读到内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf data: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	var sb strings.Builder

	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			applog.Warn("[DocQA/PDF] Failed to extract page text", "file", filename, "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return &ExtractResult{
		Content: strings.TrimSpace(cleanExtraNewlines(sb.String())),
		Pages:   pages,
	}, nil
}

// ── DOCX Extractor ───────────────────────────────────────────

// DOCXExtractor 提取 Word 文档文本
type DOCXExtractor struct{}

func (d *DOCXExtractor) SupportedTypes() []string {
	return []string{".docx"}
}

func (d *DOCXExtractor) Extract(reader io.Reader, filename string) (*ExtractResult, error) {
	// docx 库需要 io.ReaderAt，先读到内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read docx data: %w", err)
	}

	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	// docx 返回 XML 形式的内容，去掉标签后按行扫描取纯文本
	var sb strings.Builder
	content := reXMLTag.ReplaceAllString(r.Editable().GetContent(), "\n")
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	return &ExtractResult{Content: strings.TrimSpace(cleanExtraNewlines(sb.String()))}, nil
}

// ── 辅助函数 ─────────────────────────────────────────────────

var (
	reMultiNewlines = regexp.MustCompile(`\n{3,}`)
	reXMLTag        = regexp.MustCompile(`<[^>]*>`)
)

func cleanExtraNewlines(text string) string {
	return reMultiNewlines.ReplaceAllString(text, "\n\n")
}
