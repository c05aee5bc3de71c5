package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"PaceShift/config"
	"PaceShift/core/auth"
	"PaceShift/core/pipeline"
	"PaceShift/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prober reads an uploaded file's duration so non-audio uploads are rejected early.
type Prober interface {
	GetAudioDuration(ctx context.Context, path string) (float64, error)
}

// Server HTTP 适配层，只做参数解析与错误映射
type Server struct {
	cfg         *config.Config
	service     *pipeline.Service
	tokens      *auth.TokenService
	prober      Prober
	gatherer    prometheus.Gatherer
	upload      *UploadConfig
	uploadSlots chan struct{}
}

// NewServer creates the HTTP adapter.
func NewServer(cfg *config.Config, service *pipeline.Service, tokens *auth.TokenService) *Server {
	upload := DefaultUploadConfig()
	return &Server{
		cfg:         cfg,
		service:     service,
		tokens:      tokens,
		upload:      upload,
		uploadSlots: make(chan struct{}, upload.MaxConcurrent),
	}
}

// WithProber enables duration probing of uploads.
func (s *Server) WithProber(p Prober) *Server {
	s.prober = p
	return s
}

// WithMetrics exposes g at /metrics.
func (s *Server) WithMetrics(g prometheus.Gatherer) *Server {
	s.gatherer = g
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// 任务相关的API端点
	router.HandleFunc("/api/jobs", s.AuthMiddleware(s.UploadHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/jobs/{id}", s.AuthMiddleware(s.StatusHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{id}/targets", s.AuthMiddleware(s.TargetsHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/jobs/{id}/download", s.AuthMiddleware(s.DownloadHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/usage", s.AuthMiddleware(s.UsageHandler)).Methods(http.MethodGet)

	return router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ensureDirExists(s.cfg.UploadDir)
	ensureDirExists(s.cfg.AudioUploadDir)
	ensureDirExists(s.cfg.OutputDir)

	server := &http.Server{
		Addr:         s.cfg.ServerAddr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", s.cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("正在关闭 HTTP 服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP 服务已关闭")
	return nil
}

func ensureDirExists(dirPath string) {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			logger.Fatal("创建目录失败", logger.String("dir", dirPath), logger.ErrorField(err))
		}
		logger.Info("已创建目录", logger.String("dir", dirPath))
	}
}
