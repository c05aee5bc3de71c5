package worker

import (
	"context"

	"PaceShift/model"
)

// 队列名称
const (
	AnalysisQueue   = "analysis"
	AdjustmentQueue = "adjustment"
)

// AnalysisTask is the analysis queue payload.
type AnalysisTask struct {
	JobID            string `json:"jobId"`
	FilePath         string `json:"filePath"`
	OriginalFilename string `json:"originalFilename"`
}

// AdjustmentTask is the adjustment queue payload.
type AdjustmentTask struct {
	JobID            string             `json:"jobId"`
	FilePath         string             `json:"filePath"`
	OriginalFilename string             `json:"originalFilename"`
	Targets          []model.TargetSpec `json:"targets"`
}

// JobStore is the slice of the job ledger the workers need.
type JobStore interface {
	Read(ctx context.Context, jobID string) (*model.Job, error)
	Update(ctx context.Context, jobID string, status model.JobStatus, fields model.JobFields)
}
