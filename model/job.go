package model

import "time"

// JobStatus 任务状态，两个阶段共用一条生命周期
type JobStatus string

const (
	JobStatusPending                  JobStatus = "PENDING"
	JobStatusProcessingUploadCloud    JobStatus = "PROCESSING_UPLOAD_CLOUD"
	JobStatusProcessingCloudAnalysis  JobStatus = "PROCESSING_CLOUD_ANALYSIS"
	JobStatusProcessingWPMCalculation JobStatus = "PROCESSING_WPM_CALCULATION"
	JobStatusReadyForInput            JobStatus = "READY_FOR_INPUT"
	JobStatusQueuedForAdjustment      JobStatus = "QUEUED_FOR_ADJUSTMENT"
	JobStatusProcessingAdjustment     JobStatus = "PROCESSING_ADJUSTMENT"
	JobStatusProcessingReconstruction JobStatus = "PROCESSING_RECONSTRUCTION"
	JobStatusComplete                 JobStatus = "COMPLETE"
	JobStatusFailed                   JobStatus = "FAILED"
)

// Stage identifies one of the two metered pipeline stages.
type Stage string

const (
	StageAnalysis   Stage = "analysis"
	StageAdjustment Stage = "adjustment"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageAnalysis, StageAdjustment}

// transitions 合法的状态迁移表
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:                  {JobStatusProcessingUploadCloud, JobStatusFailed},
	JobStatusProcessingUploadCloud:    {JobStatusProcessingCloudAnalysis, JobStatusFailed},
	JobStatusProcessingCloudAnalysis:  {JobStatusProcessingWPMCalculation, JobStatusFailed},
	JobStatusProcessingWPMCalculation: {JobStatusReadyForInput, JobStatusFailed},
	JobStatusReadyForInput:            {JobStatusQueuedForAdjustment},
	JobStatusQueuedForAdjustment:      {JobStatusProcessingAdjustment, JobStatusFailed},
	// 无需重建时直接 COMPLETE
	JobStatusProcessingAdjustment:     {JobStatusProcessingReconstruction, JobStatusComplete, JobStatusFailed},
	JobStatusProcessingReconstruction: {JobStatusComplete, JobStatusFailed},
	// 仅允许调速阶段的重试
	JobStatusFailed: {JobStatusReadyForInput},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActive reports whether a worker currently owns a job in this status.
func (s JobStatus) IsActive() bool {
	switch s {
	case JobStatusPending,
		JobStatusProcessingUploadCloud,
		JobStatusProcessingCloudAnalysis,
		JobStatusProcessingWPMCalculation,
		JobStatusQueuedForAdjustment,
		JobStatusProcessingAdjustment,
		JobStatusProcessingReconstruction:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := transitions[s]
	return ok || s == JobStatusComplete
}

// Job is the merged view of a job's status record and data record.
type Job struct {
	ID               string        `json:"id"`
	Status           JobStatus     `json:"status"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	UserID           string        `json:"userId,omitempty"`
	OriginalFilename string        `json:"originalFilename,omitempty"`
	FilePath         string        `json:"-"`
	OutputFilePath   string        `json:"-"`
	OutputObjectKey  string        `json:"outputObjectKey,omitempty"`
	SpeakerStats     []SpeakerStat `json:"speakerStats,omitempty"`
	Segments         []Segment     `json:"segments,omitempty"`
	Targets          []TargetSpec  `json:"targets,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// HasAnalysis reports whether both analysis outputs were persisted.
func (j *Job) HasAnalysis() bool {
	return j.SpeakerStats != nil && j.Segments != nil
}

// JobFields is the closed set of optional fields merged into a job's data record.
// Zero value carries nothing; use the With* builders to set fields.
type JobFields struct {
	userID           *string
	originalFilename *string
	filePath         *string
	outputFilePath   *string
	outputObjectKey  *string
	errorMessage     *string
	speakerStats     *[]SpeakerStat
	segments         *[]Segment
	targets          *[]TargetSpec
}

func (f JobFields) WithUserID(v string) JobFields           { f.userID = &v; return f }
func (f JobFields) WithOriginalFilename(v string) JobFields { f.originalFilename = &v; return f }
func (f JobFields) WithFilePath(v string) JobFields         { f.filePath = &v; return f }
func (f JobFields) WithOutputFilePath(v string) JobFields   { f.outputFilePath = &v; return f }
func (f JobFields) WithOutputObjectKey(v string) JobFields  { f.outputObjectKey = &v; return f }
func (f JobFields) WithError(v string) JobFields            { f.errorMessage = &v; return f }

func (f JobFields) WithSpeakerStats(v []SpeakerStat) JobFields {
	if v == nil {
		v = []SpeakerStat{}
	}
	f.speakerStats = &v
	return f
}

func (f JobFields) WithSegments(v []Segment) JobFields {
	if v == nil {
		v = []Segment{}
	}
	f.segments = &v
	return f
}

func (f JobFields) WithTargets(v []TargetSpec) JobFields {
	if v == nil {
		v = []TargetSpec{}
	}
	f.targets = &v
	return f
}

// Visit calls the matching callback for every field that is set.
// Scalar fields go to str, list fields go to list as their raw values.
func (f JobFields) Visit(str func(name, value string), list func(name string, value interface{})) {
	scalars := []struct {
		name  string
		value *string
	}{
		{FieldUserID, f.userID},
		{FieldOriginalFilename, f.originalFilename},
		{FieldFilePath, f.filePath},
		{FieldOutputFilePath, f.outputFilePath},
		{FieldOutputObjectKey, f.outputObjectKey},
		{FieldError, f.errorMessage},
	}
	for _, s := range scalars {
		if s.value != nil {
			str(s.name, *s.value)
		}
	}
	if f.speakerStats != nil {
		list(FieldSpeakerStats, *f.speakerStats)
	}
	if f.segments != nil {
		list(FieldSegments, *f.segments)
	}
	if f.targets != nil {
		list(FieldTargets, *f.targets)
	}
}

// Data record field names.
const (
	FieldUserID           = "userId"
	FieldOriginalFilename = "originalFilename"
	FieldFilePath         = "filePath"
	FieldOutputFilePath   = "outputFilePath"
	FieldOutputObjectKey  = "outputObjectKey"
	FieldError            = "error"
	FieldSpeakerStats     = "speakerStats"
	FieldSegments         = "segments"
	FieldTargets          = "targets"
)
