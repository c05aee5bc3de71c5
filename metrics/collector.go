// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 准入结果与任务结局标签
const (
	ResultAdmitted  = "admitted"
	ResultUnlimited = "unlimited"
	ResultDenied    = "denied"

	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"

	SegmentStretched = "stretched"
	SegmentCopied    = "copied"
	SegmentSkipped   = "skipped"
)

// Collector 指标收集器。nil Collector 上的所有方法都是空操作
type Collector struct {
	gateDecisions       *prometheus.CounterVec
	jobsTotal           *prometheus.CounterVec
	segmentsTotal       *prometheus.CounterVec
	adjustmentShortcuts prometheus.Counter
	jobDuration         *prometheus.HistogramVec
}

// NewCollector 创建指标收集器并注册到 reg
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		gateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_decisions_total",
				Help:      "Admission decisions made by the pipeline gate",
			},
			[]string{"stage", "result"},
		),
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Jobs finished by a worker, by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		segmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_total",
				Help:      "Segments handled during reconstruction",
			},
			[]string{"action"},
		),
		adjustmentShortcuts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adjustment_shortcuts_total",
				Help:      "Adjustment jobs completed by copying the source verbatim",
			},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time a job spends in a worker",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"stage"},
		),
	}
}

// RecordGateDecision 记录一次准入判断
func (c *Collector) RecordGateDecision(stage, result string) {
	if c == nil {
		return
	}
	c.gateDecisions.WithLabelValues(stage, result).Inc()
}

// RecordJob 记录任务结束
func (c *Collector) RecordJob(stage, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(stage, outcome).Inc()
	c.jobDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordSegment 记录一个片段的处理方式
func (c *Collector) RecordSegment(action string) {
	if c == nil {
		return
	}
	c.segmentsTotal.WithLabelValues(action).Inc()
}

// RecordShortcut 记录一次整段直接复制
func (c *Collector) RecordShortcut() {
	if c == nil {
		return
	}
	c.adjustmentShortcuts.Inc()
}
