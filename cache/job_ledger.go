package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PaceShift/logger"
	"PaceShift/model"

	"github.com/redis/go-redis/v9"
)

const (
	jobStatusKey = "job:%s:status" // Hash: status, createdAt, updatedAt
	jobDataKey   = "job:%s:data"   // Hash: 文件信息、分析结果、目标、输出与错误

	fieldStatus    = "status"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// ErrJobNotFound is returned by Read when neither record exists.
var ErrJobNotFound = errors.New("job not found")

// JobLedger 任务台账：每个任务两条 Hash 记录，读取时合并
type JobLedger struct {
	client *redis.Client
	now    func() time.Time
}

// NewJobLedger 创建任务台账
func NewJobLedger(client *redis.Client) *JobLedger {
	return &JobLedger{client: client, now: time.Now}
}

// Read returns the merged job view.
func (l *JobLedger) Read(ctx context.Context, jobID string) (*model.Job, error) {
	var statusCmd, dataCmd *redis.MapStringStringCmd

	// MULTI 内读取两条记录，避免读到一半的更新
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		statusCmd = pipe.HGetAll(ctx, fmt.Sprintf(jobStatusKey, jobID))
		dataCmd = pipe.HGetAll(ctx, fmt.Sprintf(jobDataKey, jobID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	status, data := statusCmd.Val(), dataCmd.Val()
	if len(status) == 0 && len(data) == 0 {
		return nil, ErrJobNotFound
	}

	return decodeJob(jobID, status, data)
}

// Write atomically sets status and updatedAt and merges fields into the data record.
func (l *JobLedger) Write(ctx context.Context, jobID string, status model.JobStatus, fields model.JobFields) error {
	values, err := encodeFields(fields)
	if err != nil {
		return err
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		l.queueWrite(ctx, pipe, jobID, status, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

// Transition writes like Write, but only while the current status is one of from.
// It reports false when the status did not match or another writer got there first.
func (l *JobLedger) Transition(ctx context.Context, jobID string, from []model.JobStatus, to model.JobStatus, fields model.JobFields) (bool, error) {
	values, err := encodeFields(fields)
	if err != nil {
		return false, err
	}

	statusKey := fmt.Sprintf(jobStatusKey, jobID)
	applied := false

	// WATCH status 键，期间任何写入都会让 EXEC 失败
	err = l.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, statusKey, fieldStatus).Result()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if !containsStatus(from, model.JobStatus(current)) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			l.queueWrite(ctx, pipe, jobID, to, values)
			return nil
		})
		if err != nil {
			return err
		}
		applied = true
		return nil
	}, statusKey)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		logger.Warn("任务状态并发变更，放弃本次转换", logger.JobID(jobID), logger.String("to", string(to)))
		return false, nil
	case errors.Is(err, ErrJobNotFound):
		return false, err
	case err != nil:
		return false, fmt.Errorf("failed to transition job %s: %w", jobID, err)
	}
	return applied, nil
}

func (l *JobLedger) queueWrite(ctx context.Context, pipe redis.Pipeliner, jobID string, status model.JobStatus, values map[string]interface{}) {
	now := l.now().UTC().Format(time.RFC3339Nano)
	statusKey := fmt.Sprintf(jobStatusKey, jobID)

	pipe.HSet(ctx, statusKey, fieldStatus, string(status), fieldUpdatedAt, now)
	pipe.HSetNX(ctx, statusKey, fieldCreatedAt, now)
	if len(values) > 0 {
		pipe.HSet(ctx, fmt.Sprintf(jobDataKey, jobID), values)
	}
}

// encodeFields 字符串字段原样写入，列表字段编码为 JSON
func encodeFields(fields model.JobFields) (map[string]interface{}, error) {
	values := map[string]interface{}{}
	var encodeErr error
	fields.Visit(
		func(name, value string) { values[name] = value },
		func(name string, value interface{}) {
			raw, err := json.Marshal(value)
			if err != nil && encodeErr == nil {
				encodeErr = fmt.Errorf("failed to marshal %s: %w", name, err)
			}
			values[name] = string(raw)
		},
	)
	return values, encodeErr
}

func containsStatus(set []model.JobStatus, status model.JobStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// Update is the best-effort form of Write used by workers: failures are logged, never returned.
func (l *JobLedger) Update(ctx context.Context, jobID string, status model.JobStatus, fields model.JobFields) {
	if err := l.Write(ctx, jobID, status, fields); err != nil {
		logger.Error("任务状态写入失败",
			logger.JobID(jobID),
			logger.String("status", string(status)),
			logger.ErrorField(err))
		return
	}
	logger.Debug("任务状态已更新", logger.JobID(jobID), logger.String("status", string(status)))
}

func decodeJob(jobID string, status, data map[string]string) (*model.Job, error) {
	job := &model.Job{
		ID:               jobID,
		Status:           model.JobStatus(status[fieldStatus]),
		UserID:           data[model.FieldUserID],
		OriginalFilename: data[model.FieldOriginalFilename],
		FilePath:         data[model.FieldFilePath],
		OutputFilePath:   data[model.FieldOutputFilePath],
		OutputObjectKey:  data[model.FieldOutputObjectKey],
		Error:            data[model.FieldError],
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, status[fieldCreatedAt])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, status[fieldUpdatedAt])

	if err := decodeList(data, model.FieldSpeakerStats, &job.SpeakerStats); err != nil {
		return nil, err
	}
	if err := decodeList(data, model.FieldSegments, &job.Segments); err != nil {
		return nil, err
	}
	if err := decodeList(data, model.FieldTargets, &job.Targets); err != nil {
		return nil, err
	}
	return job, nil
}

func decodeList(data map[string]string, field string, dest interface{}) error {
	raw, ok := data[field]
	if !ok {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", field, err)
	}
	return nil
}
