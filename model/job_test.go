package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []JobStatus{
		JobStatusPending,
		JobStatusProcessingUploadCloud,
		JobStatusProcessingCloudAnalysis,
		JobStatusProcessingWPMCalculation,
		JobStatusReadyForInput,
		JobStatusQueuedForAdjustment,
		JobStatusProcessingAdjustment,
		JobStatusProcessingReconstruction,
		JobStatusComplete,
	}
	for i := 0; i+1 < len(path); i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransitionFailedOnlyRetriesAdjustment(t *testing.T) {
	assert.True(t, CanTransition(JobStatusFailed, JobStatusReadyForInput))
	assert.False(t, CanTransition(JobStatusFailed, JobStatusComplete))
	assert.False(t, CanTransition(JobStatusFailed, JobStatusPending))
	assert.False(t, CanTransition(JobStatusFailed, JobStatusProcessingUploadCloud))
	assert.False(t, CanTransition(JobStatusComplete, JobStatusReadyForInput))
}

func TestEveryActiveStatusCanFail(t *testing.T) {
	for status := range transitions {
		if status.IsActive() {
			assert.True(t, CanTransition(status, JobStatusFailed), status)
		}
	}
	assert.False(t, JobStatusReadyForInput.IsActive())
	assert.False(t, JobStatusComplete.IsActive())
	assert.False(t, JobStatusFailed.IsActive())
}

func TestNoBackwardEdges(t *testing.T) {
	order := map[JobStatus]int{}
	for i, s := range []JobStatus{
		JobStatusPending,
		JobStatusProcessingUploadCloud,
		JobStatusProcessingCloudAnalysis,
		JobStatusProcessingWPMCalculation,
		JobStatusReadyForInput,
		JobStatusQueuedForAdjustment,
		JobStatusProcessingAdjustment,
		JobStatusProcessingReconstruction,
		JobStatusComplete,
	} {
		order[s] = i
	}
	for from, tos := range transitions {
		if from == JobStatusFailed {
			continue
		}
		for _, to := range tos {
			if to == JobStatusFailed {
				continue
			}
			assert.Greater(t, order[to], order[from], "%s -> %s", from, to)
		}
	}
}

func TestJobFieldsVisit(t *testing.T) {
	var scalars = map[string]string{}
	var lists = map[string]interface{}{}
	JobFields{}.
		WithOriginalFilename("talk.mp3").
		WithError("").
		WithTargets(nil).
		Visit(func(name, value string) { scalars[name] = value },
			func(name string, value interface{}) { lists[name] = value })

	assert.Equal(t, map[string]string{FieldOriginalFilename: "talk.mp3", FieldError: ""}, scalars)
	assert.Equal(t, []TargetSpec{}, lists[FieldTargets])
	assert.NotContains(t, lists, FieldSegments)
}

func TestValid(t *testing.T) {
	assert.True(t, JobStatusComplete.Valid())
	assert.True(t, JobStatusPending.Valid())
	assert.False(t, JobStatus("bogus").Valid())
}
