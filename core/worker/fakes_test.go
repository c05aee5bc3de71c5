package worker

import (
	"context"
	"sync"
	"testing"

	"PaceShift/cache"
	"PaceShift/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// memoryJobs 内存版 JobStore，记录每个任务经历的状态
type memoryJobs struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	history map[string][]model.JobStatus
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{jobs: map[string]*model.Job{}, history: map[string][]model.JobStatus{}}
}

func (m *memoryJobs) Read(_ context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, cache.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *memoryJobs) Update(_ context.Context, jobID string, status model.JobStatus, fields model.JobFields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		job = &model.Job{ID: jobID}
		m.jobs[jobID] = job
	}
	job.Status = status
	fields.Visit(func(name, value string) {
		switch name {
		case model.FieldOutputFilePath:
			job.OutputFilePath = value
		case model.FieldOutputObjectKey:
			job.OutputObjectKey = value
		case model.FieldError:
			job.Error = value
		case model.FieldFilePath:
			job.FilePath = value
		case model.FieldOriginalFilename:
			job.OriginalFilename = value
		case model.FieldUserID:
			job.UserID = value
		}
	}, func(name string, value interface{}) {
		switch v := value.(type) {
		case []model.SpeakerStat:
			job.SpeakerStats = v
		case []model.Segment:
			job.Segments = v
		case []model.TargetSpec:
			job.Targets = v
		}
	})
	m.history[jobID] = append(m.history[jobID], status)
}

func (m *memoryJobs) statuses(jobID string) []model.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.JobStatus(nil), m.history[jobID]...)
}

func (m *memoryJobs) get(jobID string) *model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *m.jobs[jobID]
	return &clone
}

func strPtr(s string) *string { return &s }
