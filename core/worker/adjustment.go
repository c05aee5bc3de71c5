package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"PaceShift/core/audio"
	"PaceShift/core/queue"
	"PaceShift/core/utils"
	"PaceShift/logger"
	"PaceShift/metrics"
	"PaceShift/model"
	"PaceShift/storage"
)

// AdjustmentConfig holds the adjustment worker's directories and tuning.
type AdjustmentConfig struct {
	OutputDir string
	WorkDir   string
	Plan      PlanOptions
}

// AdjustmentWorker 按说话人目标语速重建音频
type AdjustmentWorker struct {
	jobs      JobStore
	media     audio.MediaTool
	stretcher audio.Stretcher
	archiver  storage.Archiver
	metrics   *metrics.Collector
	cfg       AdjustmentConfig
}

// NewAdjustmentWorker creates an adjustment worker.
func NewAdjustmentWorker(jobs JobStore, media audio.MediaTool, stretcher audio.Stretcher, cfg AdjustmentConfig) *AdjustmentWorker {
	return &AdjustmentWorker{jobs: jobs, media: media, stretcher: stretcher, cfg: cfg}
}

// WithArchiver uploads completed outputs to object storage.
func (w *AdjustmentWorker) WithArchiver(a storage.Archiver) *AdjustmentWorker {
	w.archiver = a
	return w
}

// WithMetrics attaches a metrics collector.
func (w *AdjustmentWorker) WithMetrics(c *metrics.Collector) *AdjustmentWorker {
	w.metrics = c
	return w
}

// HandleDelivery decodes a queued AdjustmentTask and runs it.
func (w *AdjustmentWorker) HandleDelivery(ctx context.Context, d *queue.Delivery) {
	var task AdjustmentTask
	if err := d.Decode(&task); err != nil {
		logger.Error("无法解析调速任务，丢弃", logger.ErrorField(err))
		return
	}
	w.Handle(ctx, task)
}

// Handle runs one adjustment job to COMPLETE or FAILED. It never panics or returns an error.
func (w *AdjustmentWorker) Handle(ctx context.Context, task AdjustmentTask) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	logger.Info("开始调速任务",
		logger.JobID(task.JobID),
		logger.Int("targets", len(task.Targets)))

	var outputPath string
	err := runGuarded(func() (err error) {
		outputPath, err = w.process(ctx, task)
		return err
	})
	if err != nil {
		logger.Error("调速任务失败", logger.JobID(task.JobID), logger.ErrorField(err))
		w.jobs.Update(ctx, task.JobID, model.JobStatusFailed, model.JobFields{}.WithError(err.Error()))
		w.metrics.RecordJob(string(model.StageAdjustment), metrics.OutcomeFailed, time.Since(start))
		return
	}

	fields := model.JobFields{}.WithOutputFilePath(outputPath).WithError("")
	if key := w.archive(ctx, task.JobID, outputPath); key != "" {
		fields = fields.WithOutputObjectKey(key)
	}
	w.jobs.Update(ctx, task.JobID, model.JobStatusComplete, fields)

	logger.Info("调速任务完成",
		logger.JobID(task.JobID),
		logger.String("output", outputPath),
		logger.Duration("elapsed", time.Since(start)))
	w.metrics.RecordJob(string(model.StageAdjustment), metrics.OutcomeSucceeded, time.Since(start))
}

// process 返回最终输出路径
func (w *AdjustmentWorker) process(ctx context.Context, task AdjustmentTask) (string, error) {
	w.jobs.Update(ctx, task.JobID, model.JobStatusProcessingAdjustment, model.JobFields{})

	job, err := w.jobs.Read(ctx, task.JobID)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	if !job.HasAnalysis() {
		return "", fmt.Errorf("job %s has no analysis data", task.JobID)
	}

	plans := PlanSegments(job.Segments, job.SpeakerStats, task.Targets, w.cfg.Plan)
	outputPath := w.outputPath(task)

	if !NeedsReconstruction(plans) {
		logger.Info("目标语速与原始语速一致，直接复制源文件", logger.JobID(task.JobID))
		if err := utils.CopyFile(task.FilePath, outputPath); err != nil {
			return "", fmt.Errorf("copy source: %w", err)
		}
		w.metrics.RecordShortcut()
		return outputPath, nil
	}

	w.jobs.Update(ctx, task.JobID, model.JobStatusProcessingReconstruction, model.JobFields{})

	if err := os.MkdirAll(w.cfg.WorkDir, 0755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	tempDir, err := os.MkdirTemp(w.cfg.WorkDir, "adjust-"+task.JobID+"-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logger.Warn("清理临时目录失败", logger.String("dir", tempDir), logger.ErrorField(err))
		}
	}()

	parts, err := w.renderSegments(ctx, task.JobID, tempDir, task.FilePath, plans)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("job %s has no segments with positive duration", task.JobID)
	}

	if err := w.media.Concatenate(ctx, parts, outputPath); err != nil {
		return "", fmt.Errorf("concatenate %d segments: %w", len(parts), err)
	}
	return outputPath, nil
}

// renderSegments 按时间顺序逐段提取、按需变速，返回有序的片段文件
func (w *AdjustmentWorker) renderSegments(ctx context.Context, jobID, tempDir, source string, plans []SegmentPlan) ([]string, error) {
	parts := make([]string, 0, len(plans))

	for _, p := range plans {
		if p.Action == ActionSkip {
			logger.Warn("跳过无效片段",
				logger.JobID(jobID),
				logger.Int("index", p.Index),
				logger.Int64("startMs", p.Segment.StartMs),
				logger.Int64("endMs", p.Segment.EndMs))
			w.metrics.RecordSegment(metrics.SegmentSkipped)
			continue
		}

		raw := filepath.Join(tempDir, fmt.Sprintf("seg_%05d.wav", p.Index))
		startSec := float64(p.Segment.StartMs) / 1000
		durSec := float64(p.Segment.DurationMs()) / 1000
		if err := w.media.Extract(ctx, source, raw, startSec, durSec); err != nil {
			return nil, fmt.Errorf("extract segment %d: %w", p.Index, err)
		}

		if p.Action == ActionCopy {
			parts = append(parts, raw)
			w.metrics.RecordSegment(metrics.SegmentCopied)
			continue
		}

		stretched := filepath.Join(tempDir, fmt.Sprintf("seg_%05d_stretched.wav", p.Index))
		if err := w.stretcher.Stretch(ctx, raw, stretched, p.Factor); err != nil {
			return nil, fmt.Errorf("stretch segment %d by %.4f: %w", p.Index, p.Factor, err)
		}
		logger.Debug("片段已变速",
			logger.JobID(jobID),
			logger.Int("index", p.Index),
			logger.String("speaker", p.Segment.SpeakerLabel()),
			logger.Float64("factor", p.Factor))
		parts = append(parts, stretched)
		w.metrics.RecordSegment(metrics.SegmentStretched)
	}
	return parts, nil
}

// archive 归档失败只记录日志
func (w *AdjustmentWorker) archive(ctx context.Context, jobID, outputPath string) string {
	if w.archiver == nil {
		return ""
	}
	key, err := w.archiver.Archive(ctx, jobID, outputPath)
	if err != nil {
		logger.Warn("归档输出文件失败", logger.JobID(jobID), logger.ErrorField(err))
		return ""
	}
	return key
}

// outputPath 输出文件沿用源文件扩展名
func (w *AdjustmentWorker) outputPath(task AdjustmentTask) string {
	ext := filepath.Ext(task.FilePath)
	if ext == "" {
		ext = filepath.Ext(task.OriginalFilename)
	}
	if ext == "" {
		ext = ".wav"
	}
	return filepath.Join(w.cfg.OutputDir, task.JobID+"_adjusted"+ext)
}
