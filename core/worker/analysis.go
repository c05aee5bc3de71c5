package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"PaceShift/core/queue"
	"PaceShift/core/transcribe"
	"PaceShift/logger"
	"PaceShift/metrics"
	"PaceShift/model"
)

// ErrTranscriptionTimeout is returned when polling exhausts its attempt budget.
var ErrTranscriptionTimeout = errors.New("transcription timed out")

// AnalysisWorker 上传音频、等待说话人分离结果并计算语速
type AnalysisWorker struct {
	jobs         JobStore
	transcriber  transcribe.Transcriber
	pollInterval time.Duration
	maxPolls     int
	metrics      *metrics.Collector
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewAnalysisWorker creates an analysis worker.
func NewAnalysisWorker(jobs JobStore, transcriber transcribe.Transcriber, pollInterval time.Duration, maxPolls int) *AnalysisWorker {
	if maxPolls <= 0 {
		maxPolls = 1
	}
	return &AnalysisWorker{
		jobs:         jobs,
		transcriber:  transcriber,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		sleep:        sleepContext,
	}
}

// WithMetrics attaches a metrics collector.
func (w *AnalysisWorker) WithMetrics(c *metrics.Collector) *AnalysisWorker {
	w.metrics = c
	return w
}

// HandleDelivery decodes a queued AnalysisTask and runs it.
func (w *AnalysisWorker) HandleDelivery(ctx context.Context, d *queue.Delivery) {
	var task AnalysisTask
	if err := d.Decode(&task); err != nil {
		logger.Error("无法解析分析任务，丢弃", logger.ErrorField(err))
		return
	}
	w.Handle(ctx, task)
}

// Handle runs one analysis job to READY_FOR_INPUT or FAILED. It never panics or returns an error.
func (w *AnalysisWorker) Handle(ctx context.Context, task AnalysisTask) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	logger.Info("开始分析任务", logger.JobID(task.JobID), logger.String("file", task.OriginalFilename))

	err := runGuarded(func() error { return w.process(ctx, task) })
	if err != nil {
		logger.Error("分析任务失败", logger.JobID(task.JobID), logger.ErrorField(err))
		w.jobs.Update(ctx, task.JobID, model.JobStatusFailed, model.JobFields{}.WithError(err.Error()))
		w.metrics.RecordJob(string(model.StageAnalysis), metrics.OutcomeFailed, time.Since(start))
		return
	}

	logger.Info("分析任务完成", logger.JobID(task.JobID), logger.Duration("elapsed", time.Since(start)))
	w.metrics.RecordJob(string(model.StageAnalysis), metrics.OutcomeSucceeded, time.Since(start))
}

func (w *AnalysisWorker) process(ctx context.Context, task AnalysisTask) error {
	w.jobs.Update(ctx, task.JobID, model.JobStatusProcessingUploadCloud, model.JobFields{})

	audio, err := os.ReadFile(task.FilePath)
	if err != nil {
		return fmt.Errorf("read source audio: %w", err)
	}

	handle, err := w.transcriber.Submit(ctx, audio)
	if err != nil {
		return fmt.Errorf("submit audio: %w", err)
	}

	w.jobs.Update(ctx, task.JobID, model.JobStatusProcessingCloudAnalysis, model.JobFields{})

	result, err := w.waitForTranscript(ctx, task.JobID, handle)
	if err != nil {
		return err
	}

	w.jobs.Update(ctx, task.JobID, model.JobStatusProcessingWPMCalculation, model.JobFields{})

	stats := ComputeSpeakerStats(result.Utterances)
	segments := BuildSegments(result.Utterances)

	for _, s := range stats {
		logger.Debug("说话人语速",
			logger.JobID(task.JobID),
			logger.String("speaker", s.Speaker),
			logger.Int("wpm", s.AverageWPM),
			logger.Int("words", s.TotalWords),
			logger.Float64("seconds", s.TotalDurationSeconds))
	}

	w.jobs.Update(ctx, task.JobID, model.JobStatusReadyForInput,
		model.JobFields{}.WithSpeakerStats(stats).WithSegments(segments))
	return nil
}

// waitForTranscript 轮询直到完成或出错，超过次数上限视为超时
func (w *AnalysisWorker) waitForTranscript(ctx context.Context, jobID, handle string) (*transcribe.Result, error) {
	for attempt := 1; attempt <= w.maxPolls; attempt++ {
		result, err := w.transcriber.Poll(ctx, handle)
		switch {
		case err != nil && transcribe.IsTransient(err):
			logger.Warn("轮询转写结果失败，稍后重试",
				logger.JobID(jobID),
				logger.Int("attempt", attempt),
				logger.ErrorField(err))
		case err != nil:
			return nil, fmt.Errorf("poll transcript: %w", err)
		case result.Status == transcribe.StatusCompleted:
			return result, nil
		case result.Status == transcribe.StatusError:
			return nil, fmt.Errorf("transcription failed: %s", result.Error)
		}

		if attempt < w.maxPolls {
			if err := w.sleep(ctx, w.pollInterval); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w after %d polls", ErrTranscriptionTimeout, w.maxPolls)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runGuarded 把 panic 转换为 error
func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
