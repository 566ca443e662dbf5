package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docqa/internal/domain/docqa"
	applog "docqa/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // LLM 补全可能较慢
	}
}

// Server HTTP 服务器
type Server struct {
	config   *ServerConfig
	ingestor *docqa.Ingestor
	answerer *docqa.Answerer
	store    *docqa.Store
	qaConfig *docqa.Config
	httpSrv  *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, ingestor *docqa.Ingestor, answerer *docqa.Answerer, store *docqa.Store, qaConfig *docqa.Config) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:   config,
		ingestor: ingestor,
		answerer: answerer,
		store:    store,
		qaConfig: qaConfig,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 DocQA API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", s.Health)

	handler := NewDocQAHandler(s.ingestor, s.answerer, s.store, s.qaConfig)
	handler.RegisterRoutes(r)

	return r
}

// Health 健康检查，附带当前索引条目数
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	entries := 0
	if idx := s.store.Get(); idx != nil {
		entries = idx.Len()
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"entries": entries,
	})
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
