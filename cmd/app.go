package cmd

import (
	"context"
	"fmt"

	"PaceShift/cache"
	"PaceShift/config"
	"PaceShift/core/audio"
	"PaceShift/core/pipeline"
	"PaceShift/core/queue"
	"PaceShift/core/transcribe"
	"PaceShift/core/worker"
	"PaceShift/logger"
	"PaceShift/metrics"
	"PaceShift/model"
	"PaceShift/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// app 进程内共享的依赖，显式构造后注入各组件
type app struct {
	cfg       *config.Config
	redis     *redis.Client
	jobs      *cache.JobLedger
	quotas    *cache.QuotaLedger
	analysisQ *queue.RedisQueue
	adjustQ   *queue.RedisQueue
	metrics   *metrics.Collector
	gate      *pipeline.Gate
	service   *pipeline.Service
	ffmpeg    *audio.FFmpegProcessor
}

func newApp(cfg *config.Config) (*app, error) {
	client, err := cache.NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Redis 连接成功", logger.String("addr", cfg.RedisAddr()), logger.Int("db", cfg.RedisDB))

	a := &app{
		cfg:       cfg,
		redis:     client,
		jobs:      cache.NewJobLedger(client),
		quotas:    cache.NewQuotaLedger(client, quotaLimits(cfg)),
		analysisQ: queue.NewRedisQueue(client, worker.AnalysisQueue),
		adjustQ:   queue.NewRedisQueue(client, worker.AdjustmentQueue),
		metrics:   metrics.NewCollector("paceshift", prometheus.DefaultRegisterer),
		ffmpeg:    audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.AudioBitrate),
	}
	a.gate = pipeline.NewGate(a.quotas, cfg.UnlimitedRoles).WithMetrics(a.metrics)
	a.service = pipeline.NewService(a.gate, a.jobs, a.analysisQ, a.adjustQ)
	return a, nil
}

func quotaLimits(cfg *config.Config) cache.QuotaLimits {
	return cache.QuotaLimits{
		model.StageAnalysis:   cfg.AnalysisDailyLimit,
		model.StageAdjustment: cfg.AdjustmentDailyLimit,
	}
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		logger.Warn("关闭 Redis 连接失败", logger.ErrorField(err))
	}
}

// runPools 启动指定阶段的 worker 池，直到 ctx 取消
func (a *app) runPools(ctx context.Context, stages []model.Stage) error {
	pools := make([]*worker.Pool, 0, len(stages))
	for _, stage := range stages {
		pool, err := a.newPool(ctx, stage)
		if err != nil {
			return err
		}
		pools = append(pools, pool)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pool := range pools {
		pool := pool
		g.Go(func() error { return pool.Run(gctx) })
	}
	return g.Wait()
}

func (a *app) newPool(ctx context.Context, stage model.Stage) (*worker.Pool, error) {
	switch stage {
	case model.StageAnalysis:
		if a.cfg.TranscribeAPIKey == "" {
			logger.Warn("未配置 TRANSCRIBE_API_KEY，转写请求将被拒绝")
		}
		client := transcribe.NewClient(a.cfg.TranscribeURL, a.cfg.TranscribeAPIKey, 0)
		w := worker.NewAnalysisWorker(a.jobs, client, a.cfg.TranscribePollInterval, a.cfg.TranscribeMaxPolls).
			WithMetrics(a.metrics)
		return worker.NewPool(a.analysisQ, a.cfg.AnalysisConcurrency, w.HandleDelivery), nil

	case model.StageAdjustment:
		stretcher, err := audio.NewStretcher(a.cfg.StretchEngine, a.cfg.RubberbandPath, a.cfg.FFmpegPath)
		if err != nil {
			return nil, err
		}
		w := worker.NewAdjustmentWorker(a.jobs, a.ffmpeg, stretcher, worker.AdjustmentConfig{
			OutputDir: a.cfg.OutputDir,
			WorkDir:   a.cfg.WorkDir,
			Plan: worker.PlanOptions{
				ToleranceWPM: a.cfg.WPMTolerance,
				MinFactor:    a.cfg.StretchMinFactor,
				MaxFactor:    a.cfg.StretchMaxFactor,
			},
		}).WithMetrics(a.metrics)

		archiver, err := storage.NewMinioArchiver(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		// 未配置 MinIO 时 archiver 为 nil
		if archiver != nil {
			w.WithArchiver(archiver)
		}
		return worker.NewPool(a.adjustQ, a.cfg.AdjustmentConcurrency, w.HandleDelivery), nil

	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}
