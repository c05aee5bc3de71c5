package worker

import (
	"testing"

	"PaceShift/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPlan = PlanOptions{ToleranceWPM: 1, MinFactor: 0.5, MaxFactor: 2.0}

func twoSpeakerFixture() ([]model.Segment, []model.SpeakerStat) {
	segments := []model.Segment{
		{Speaker: strPtr("A"), StartMs: 0, EndMs: 4000},
		{Speaker: strPtr("B"), StartMs: 4000, EndMs: 9000},
	}
	stats := []model.SpeakerStat{
		{Speaker: "A", AverageWPM: 100, TotalWords: 100, TotalDurationSeconds: 60},
		{Speaker: "B", AverageWPM: 140, TotalWords: 140, TotalDurationSeconds: 60},
	}
	return segments, stats
}

func TestPlanSegments_StretchesOnlyTargetedSpeaker(t *testing.T) {
	segments, stats := twoSpeakerFixture()

	plans := PlanSegments(segments, stats, []model.TargetSpec{{Speaker: "A", TargetWPM: 120}}, defaultPlan)
	require.Len(t, plans, 2)

	assert.Equal(t, ActionStretch, plans[0].Action)
	assert.InDelta(t, 1.2, plans[0].Factor, 1e-9)
	assert.Equal(t, ActionCopy, plans[1].Action)
	assert.Equal(t, 1.0, plans[1].Factor)
	assert.True(t, NeedsReconstruction(plans))
}

func TestPlanSegments_NoOpTargets(t *testing.T) {
	segments, stats := twoSpeakerFixture()

	cases := map[string][]model.TargetSpec{
		"none":             nil,
		"equal":            {{Speaker: "A", TargetWPM: 100}},
		"within tolerance": {{Speaker: "A", TargetWPM: 100.8}, {Speaker: "B", TargetWPM: 139}},
		"unknown speaker":  {{Speaker: "Z", TargetWPM: 200}},
		"non-positive":     {{Speaker: "A", TargetWPM: 0}, {Speaker: "B", TargetWPM: -5}},
	}
	for name, targets := range cases {
		t.Run(name, func(t *testing.T) {
			plans := PlanSegments(segments, stats, targets, defaultPlan)
			assert.False(t, NeedsReconstruction(plans))
		})
	}
}

func TestPlanSegments_SkipsNonPositiveDuration(t *testing.T) {
	segments := []model.Segment{
		{Speaker: strPtr("A"), StartMs: 1000, EndMs: 1000},
		{Speaker: strPtr("A"), StartMs: 2000, EndMs: 1500},
		{Speaker: nil, StartMs: 2000, EndMs: 2500},
	}
	stats := []model.SpeakerStat{{Speaker: "A", AverageWPM: 100}}

	plans := PlanSegments(segments, stats, []model.TargetSpec{{Speaker: "A", TargetWPM: 150}}, defaultPlan)
	require.Len(t, plans, 3)
	assert.Equal(t, ActionSkip, plans[0].Action)
	assert.Equal(t, ActionSkip, plans[1].Action)
	assert.Equal(t, ActionCopy, plans[2].Action)
	assert.Equal(t, 2, plans[2].Index)
}

func TestPlanSegments_ZeroAverageNeverStretches(t *testing.T) {
	segments := []model.Segment{{Speaker: strPtr("A"), StartMs: 0, EndMs: 1000}}
	stats := []model.SpeakerStat{{Speaker: "A", AverageWPM: 0}}

	plans := PlanSegments(segments, stats, []model.TargetSpec{{Speaker: "A", TargetWPM: 150}}, defaultPlan)
	assert.Equal(t, ActionCopy, plans[0].Action)
}

func TestPlanSegments_LastTargetWins(t *testing.T) {
	segments, stats := twoSpeakerFixture()

	plans := PlanSegments(segments, stats, []model.TargetSpec{
		{Speaker: "A", TargetWPM: 150},
		{Speaker: "A", TargetWPM: 80},
	}, defaultPlan)
	assert.InDelta(t, 0.8, plans[0].Factor, 1e-9)
}

func TestStretchFactor_Clamp(t *testing.T) {
	assert.Equal(t, 2.0, stretchFactor(100, 500, defaultPlan))
	assert.Equal(t, 0.5, stretchFactor(100, 10, defaultPlan))

	unclamped := PlanOptions{ToleranceWPM: 1}
	assert.InDelta(t, 5.0, stretchFactor(100, 500, unclamped), 1e-9)
	assert.InDelta(t, 0.1, stretchFactor(100, 10, unclamped), 1e-9)
}

func TestSegmentAction_String(t *testing.T) {
	assert.Equal(t, "copy", ActionCopy.String())
	assert.Equal(t, "stretch", ActionStretch.String())
	assert.Equal(t, "skip", ActionSkip.String())
}
