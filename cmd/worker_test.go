package cmd

import (
	"testing"

	"PaceShift/config"
	"PaceShift/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStages(t *testing.T) {
	stages, err := parseStages("all")
	require.NoError(t, err)
	assert.Equal(t, model.Stages, stages)

	stages, err = parseStages("adjustment")
	require.NoError(t, err)
	assert.Equal(t, []model.Stage{model.StageAdjustment}, stages)

	_, err = parseStages("render")
	assert.Error(t, err)
}

func TestQuotaLimits(t *testing.T) {
	limits := quotaLimits(&config.Config{AnalysisDailyLimit: 3, AdjustmentDailyLimit: 10})
	assert.Equal(t, 3, limits[model.StageAnalysis])
	assert.Equal(t, 10, limits[model.StageAdjustment])
}
