package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PaceShift/core/pipeline"
	"PaceShift/core/utils"
	"PaceShift/logger"
	"PaceShift/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// UploadConfig 定义上传配置
type UploadConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	MaxConcurrent     int
	ProbeTimeout      time.Duration
}

// DefaultUploadConfig 返回默认的上传配置
func DefaultUploadConfig() *UploadConfig {
	return &UploadConfig{
		MaxFileSize:       500 << 20, // 500MB
		AllowedExtensions: []string{".mp3", ".wav", ".m4a", ".aac", ".flac", ".ogg", ".opus", ".mp4"},
		MaxConcurrent:     5,
		ProbeTimeout:      30 * time.Second,
	}
}

func (c *UploadConfig) allowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, a := range c.AllowedExtensions {
		if a == ext {
			return true
		}
	}
	return false
}

type targetsRequest struct {
	Targets []model.TargetSpec `json:"targets"`
}

// UploadHandler stores an uploaded recording and submits it for analysis.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	if r.ContentLength > s.upload.MaxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request too large. Maximum size is %d MB", s.upload.MaxFileSize>>20))
		return
	}

	// 获取信号量，控制并发
	select {
	case s.uploadSlots <- struct{}{}:
		defer func() { <-s.uploadSlots }()
	default:
		logger.Warn("服务器繁忙，拒绝新的上传请求")
		writeError(w, http.StatusServiceUnavailable, "Server is busy, please try again later")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.upload.MaxFileSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'file' in form")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !s.upload.allowed(ext) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type %q", ext))
		return
	}

	jobID := uuid.NewString()
	filePath := filepath.Join(s.cfg.AudioUploadDir, jobID+ext)
	if err := utils.SaveFile(file, filePath); err != nil {
		logger.Error("保存上传文件失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to save file")
		return
	}

	if s.prober != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.upload.ProbeTimeout)
		duration, err := s.prober.GetAudioDuration(ctx, filePath)
		cancel()
		if err != nil || duration <= 0 {
			os.Remove(filePath)
			logger.Warn("上传文件不是有效音频", logger.String("file", header.Filename), logger.ErrorField(err))
			writeError(w, http.StatusBadRequest, "Uploaded file is not readable audio")
			return
		}
	}

	if err := s.service.EnqueueAnalysis(r.Context(), caller, jobID, filePath, header.Filename); err != nil {
		// 配额被拒时不保留文件
		if errors.Is(err, pipeline.ErrQuotaExceeded) {
			os.Remove(filePath)
		}
		writeServiceError(w, err)
		return
	}

	logger.Info("上传完成，已提交分析",
		logger.JobID(jobID),
		logger.String("userId", caller.UserID),
		logger.String("file", header.Filename))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  jobID,
		"status": model.JobStatusPending,
	})
}

// StatusHandler returns the merged job record.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	job, err := s.service.PollStatus(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// TargetsHandler submits per-speaker target rates for adjustment.
func (s *Server) TargetsHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	jobID := mux.Vars(r)["id"]

	var req targetsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.service.EnqueueAdjustment(r.Context(), caller, jobID, req.Targets); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  jobID,
		"status": model.JobStatusQueuedForAdjustment,
	})
}

// DownloadHandler streams the adjusted recording once the job is COMPLETE.
func (s *Server) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	path, name, err := s.service.Download(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if _, err := os.Stat(path); err != nil {
		logger.Error("输出文件缺失", logger.String("path", path), logger.ErrorField(err))
		writeError(w, http.StatusGone, "Output file is no longer available")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// UsageHandler reports today's quota usage for the caller.
func (s *Server) UsageHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId": caller.UserID,
		"role":   caller.Role,
		"usage":  s.service.Usage(r.Context(), caller),
	})
}

// writeServiceError 把业务错误映射为 HTTP 状态码
func writeServiceError(w http.ResponseWriter, err error) {
	var quotaErr *pipeline.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":   "quota_exceeded",
			"kind":    quotaErr.Kind,
			"limit":   quotaErr.Limit,
			"upgrade": true,
		})
	case errors.Is(err, pipeline.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, pipeline.ErrJobNotReady), errors.Is(err, pipeline.ErrOutputNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("请求处理失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
