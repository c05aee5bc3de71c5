package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"PaceShift/cache"
	"PaceShift/core/worker"
	"PaceShift/logger"
	"PaceShift/model"
)

var (
	ErrJobNotFound    = cache.ErrJobNotFound
	ErrJobNotReady    = errors.New("job is not ready for adjustment")
	ErrOutputNotReady = errors.New("output is not ready")
	ErrInvalidRequest = errors.New("invalid request")
)

// JobLedger is the job ledger as seen by the service.
type JobLedger interface {
	Read(ctx context.Context, jobID string) (*model.Job, error)
	Write(ctx context.Context, jobID string, status model.JobStatus, fields model.JobFields) error
	Transition(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus, fields model.JobFields) (bool, error)
}

// TaskQueue accepts JSON-encodable tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, task interface{}) error
}

// Caller identifies who is making a request.
type Caller struct {
	UserID string
	Role   model.Role
}

// Service 面向调用方的操作：提交分析、提交目标语速、查询状态、下载
type Service struct {
	gate       *Gate
	jobs       JobLedger
	analysis   TaskQueue
	adjustment TaskQueue
}

// NewService wires the gate, the job ledger and both stage queues.
func NewService(gate *Gate, jobs JobLedger, analysis, adjustment TaskQueue) *Service {
	return &Service{gate: gate, jobs: jobs, analysis: analysis, adjustment: adjustment}
}

// EnqueueAnalysis meters the analysis stage, creates the job and queues it.
// A denied request creates no job.
func (s *Service) EnqueueAnalysis(ctx context.Context, caller Caller, jobID, filePath, originalFilename string) error {
	if jobID == "" || filePath == "" {
		return fmt.Errorf("%w: job id and file path are required", ErrInvalidRequest)
	}

	if err := s.gate.Admit(ctx, caller.UserID, caller.Role, model.StageAnalysis); err != nil {
		return err
	}

	fields := model.JobFields{}.
		WithUserID(caller.UserID).
		WithOriginalFilename(originalFilename).
		WithFilePath(filePath)
	if err := s.jobs.Write(ctx, jobID, model.JobStatusPending, fields); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	task := worker.AnalysisTask{JobID: jobID, FilePath: filePath, OriginalFilename: originalFilename}
	if err := s.analysis.Enqueue(ctx, task); err != nil {
		s.markFailed(ctx, jobID, err)
		return fmt.Errorf("enqueue analysis: %w", err)
	}

	logger.Info("分析任务已入队", logger.JobID(jobID), logger.String("userId", caller.UserID))
	return nil
}

// EnqueueAdjustment meters the adjustment stage and queues targets for a job whose
// analysis is done. A FAILED job with analysis data is retried from scratch.
func (s *Service) EnqueueAdjustment(ctx context.Context, caller Caller, jobID string, targets []model.TargetSpec) error {
	if err := validateTargets(targets); err != nil {
		return err
	}

	job, err := s.load(ctx, caller, jobID)
	if err != nil {
		return err
	}

	retry := false
	switch {
	case job.Status == model.JobStatusReadyForInput:
	case job.Status == model.JobStatusFailed && job.HasAnalysis():
		retry = true
	default:
		return fmt.Errorf("%w: status %s", ErrJobNotReady, job.Status)
	}

	if err := s.gate.Admit(ctx, caller.UserID, caller.Role, model.StageAdjustment); err != nil {
		return err
	}

	// 以 status 为条件做比较写入，并发提交时只有一个请求能入队
	if retry {
		logger.Info("重试调速任务", logger.JobID(jobID), logger.String("previousError", job.Error))
		if err := s.claim(ctx, jobID, model.JobStatusFailed, model.JobStatusReadyForInput, model.JobFields{}.WithError("")); err != nil {
			return err
		}
	}

	if err := s.claim(ctx, jobID, model.JobStatusReadyForInput, model.JobStatusQueuedForAdjustment, model.JobFields{}.WithTargets(targets)); err != nil {
		return err
	}

	task := worker.AdjustmentTask{
		JobID:            jobID,
		FilePath:         job.FilePath,
		OriginalFilename: job.OriginalFilename,
		Targets:          targets,
	}
	if err := s.adjustment.Enqueue(ctx, task); err != nil {
		s.markFailed(ctx, jobID, err)
		return fmt.Errorf("enqueue adjustment: %w", err)
	}

	logger.Info("调速任务已入队", logger.JobID(jobID), logger.Int("targets", len(targets)))
	return nil
}

// PollStatus returns the merged job record.
func (s *Service) PollStatus(ctx context.Context, caller Caller, jobID string) (*model.Job, error) {
	return s.load(ctx, caller, jobID)
}

// Download returns the output path and a suggested file name iff the job is COMPLETE.
func (s *Service) Download(ctx context.Context, caller Caller, jobID string) (string, string, error) {
	job, err := s.load(ctx, caller, jobID)
	if err != nil {
		return "", "", err
	}
	if job.Status != model.JobStatusComplete || job.OutputFilePath == "" {
		return "", "", fmt.Errorf("%w: status %s", ErrOutputNotReady, job.Status)
	}
	return job.OutputFilePath, downloadName(job), nil
}

// Usage reports today's consumption for both stages.
func (s *Service) Usage(ctx context.Context, caller Caller) []Usage {
	return s.gate.Usage(ctx, caller.UserID, caller.Role)
}

// load 读取任务，非本人且非管理员时视为不存在
func (s *Service) load(ctx context.Context, caller Caller, jobID string) (*model.Job, error) {
	job, err := s.jobs.Read(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != "" && job.UserID != caller.UserID && caller.Role != model.RoleAdmin {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// claim 仅当任务仍处于 from 状态时写入 to
func (s *Service) claim(ctx context.Context, jobID string, from, to model.JobStatus, fields model.JobFields) error {
	ok, err := s.jobs.Transition(ctx, jobID, []model.JobStatus{from}, to, fields)
	if err != nil {
		return fmt.Errorf("update job to %s: %w", to, err)
	}
	if !ok {
		return fmt.Errorf("%w: job left %s before it could be queued", ErrJobNotReady, from)
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, jobID string, cause error) {
	if err := s.jobs.Write(ctx, jobID, model.JobStatusFailed, model.JobFields{}.WithError(cause.Error())); err != nil {
		logger.Error("写入失败状态失败", logger.JobID(jobID), logger.ErrorField(err))
	}
}

func validateTargets(targets []model.TargetSpec) error {
	for i, t := range targets {
		if strings.TrimSpace(t.Speaker) == "" {
			return fmt.Errorf("%w: target %d has no speaker", ErrInvalidRequest, i)
		}
		if math.IsNaN(t.TargetWPM) || math.IsInf(t.TargetWPM, 0) || t.TargetWPM < 0 {
			return fmt.Errorf("%w: target %d has invalid targetWpm", ErrInvalidRequest, i)
		}
	}
	return nil
}

// downloadName 原文件名加 _adjusted 后缀
func downloadName(job *model.Job) string {
	ext := filepath.Ext(job.OutputFilePath)
	base := strings.TrimSuffix(filepath.Base(job.OriginalFilename), filepath.Ext(job.OriginalFilename))
	if base == "" || base == "." {
		base = job.ID
	}
	return base + "_adjusted" + ext
}
