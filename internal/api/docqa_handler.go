package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"docqa/internal/domain/docqa"
	applog "docqa/internal/platform/log"
	"docqa/internal/provider"
)

// DocQAHandler 文档上传与问答 API
type DocQAHandler struct {
	ingestor *docqa.Ingestor
	answerer *docqa.Answerer
	store    *docqa.Store
	config   *docqa.Config
}

// NewDocQAHandler 创建处理器
func NewDocQAHandler(ingestor *docqa.Ingestor, answerer *docqa.Answerer, store *docqa.Store, cfg *docqa.Config) *DocQAHandler {
	return &DocQAHandler{
		ingestor: ingestor,
		answerer: answerer,
		store:    store,
		config:   cfg,
	}
}

// RegisterRoutes 注册路由
func (h *DocQAHandler) RegisterRoutes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Post("/ask", h.Ask)
	r.Get("/documents", h.ListDocuments)
}

// --- 文件上传入库 ---

// Upload 文件上传并入库（multipart/form-data）。
// 同名文件重复上传会追加重复的块：索引只追加，没有删除路径。
func (h *DocQAHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limitBytes := int64(h.config.MaxFileSize) << 20

	if err := r.ParseMultipartForm(limitBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > 0 && header.Size > limitBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds limit (%dMB)", h.config.MaxFileSize))
		return
	}

	filename := filepath.Base(header.Filename)
	ext := filepath.Ext(filename)
	if !h.config.TypeAllowed(ext) {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("file type %q is not allowed (allowed: %v)", ext, h.config.AllowedTypes))
		return
	}

	// 原始文件落盘保留
	if err := os.MkdirAll(h.config.UploadDir, 0o755); err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to prepare upload dir")
		return
	}
	dstPath := filepath.Join(h.config.UploadDir, filename)
	dst, err := os.Create(dstPath)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to save file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, r, http.StatusInternalServerError, "failed to save file")
		return
	}
	dst.Close()

	result, err := h.ingestor.Ingest(r.Context(), dstPath)
	if err != nil {
		h.writeIngestError(w, r, filename, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, map[string]interface{}{
		"filename":    result.Filename,
		"doc_id":      result.DocID,
		"chunk_count": result.ChunkCount,
		"status":      "processed and indexed",
	})
}

func (h *DocQAHandler) writeIngestError(w http.ResponseWriter, r *http.Request, filename string, err error) {
	var loadErr *docqa.LoadError
	if errors.As(err, &loadErr) {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("failed to load document: %v", loadErr.Err))
		return
	}

	var provErr *docqa.ProviderError
	if errors.As(err, &provErr) {
		applog.Error("[DocQA] Ingest provider failure", "file", filename, "error", err)
		if provErr.Timeout() {
			writeError(w, r, http.StatusGatewayTimeout, "embedding provider timed out")
			return
		}
		writeError(w, r, http.StatusBadGateway, "embedding provider failed")
		return
	}

	applog.Error("[DocQA] Ingest failed", "file", filename, "error", err)
	writeError(w, r, http.StatusInternalServerError, "failed to index document")
}

// --- 问答 ---

type askRequest struct {
	Query   string `json:"query"`
	K       int    `json:"k,omitempty"`
	Backend string `json:"backend,omitempty"`
}

func (h *DocQAHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := h.answerer.Answer(r.Context(), req.Query, req.K, req.Backend)
	if err != nil {
		h.writeAskError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"answer": answer})
}

// writeAskError 区分「还没有文档」「后端名错误」「外部服务故障」三类失败
func (h *DocQAHandler) writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, docqa.ErrEmptyIndex):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, provider.ErrProviderNotFound):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		var provErr *docqa.ProviderError
		if errors.As(err, &provErr) {
			applog.Error("[DocQA] Answer provider failure", "error", err)
			if provErr.Timeout() {
				writeError(w, r, http.StatusGatewayTimeout, "completion provider timed out")
				return
			}
			writeError(w, r, http.StatusBadGateway, "completion provider failed")
			return
		}
		applog.Error("[DocQA] Answer failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to answer question")
	}
}

// --- 文档列表 ---

func (h *DocQAHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Refresh(); err != nil {
		applog.Warn("[DocQA] Index refresh failed", "error", err)
	}

	idx := h.store.Get()
	if idx == nil {
		writeJSON(w, r, http.StatusOK, []docqa.DocumentInfo{})
		return
	}
	docs := idx.Documents()
	if docs == nil {
		docs = []docqa.DocumentInfo{}
	}
	writeJSON(w, r, http.StatusOK, docs)
}
