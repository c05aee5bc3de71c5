package worker

import (
	"math"

	"PaceShift/model"
)

// SegmentAction is what reconstruction does with one segment.
type SegmentAction int

const (
	ActionCopy SegmentAction = iota
	ActionStretch
	ActionSkip
)

func (a SegmentAction) String() string {
	switch a {
	case ActionCopy:
		return "copy"
	case ActionStretch:
		return "stretch"
	default:
		return "skip"
	}
}

// PlanOptions 调速参数。MinFactor 与 MaxFactor 都为 0 时不限幅
type PlanOptions struct {
	ToleranceWPM float64
	MinFactor    float64
	MaxFactor    float64
}

// SegmentPlan describes one segment's treatment, in source order.
type SegmentPlan struct {
	Index   int
	Segment model.Segment
	Factor  float64
	Action  SegmentAction
}

// speakerFactors resolves the tempo factor for every speaker that has a target.
// Later targets for the same speaker win.
func speakerFactors(stats []model.SpeakerStat, targets []model.TargetSpec, opts PlanOptions) map[string]float64 {
	averages := make(map[string]int, len(stats))
	for _, s := range stats {
		averages[s.Speaker] = s.AverageWPM
	}

	factors := make(map[string]float64, len(targets))
	for _, t := range targets {
		avg, ok := averages[t.Speaker]
		if !ok {
			continue
		}
		factors[t.Speaker] = stretchFactor(float64(avg), t.TargetWPM, opts)
	}
	return factors
}

// stretchFactor = target / average, 1.0 when within tolerance or either rate is non-positive.
func stretchFactor(average, target float64, opts PlanOptions) float64 {
	if average <= 0 || target <= 0 || math.IsNaN(target) || math.IsInf(target, 0) {
		return 1.0
	}
	if math.Abs(target-average) <= opts.ToleranceWPM {
		return 1.0
	}

	factor := target / average
	if opts.MinFactor > 0 && factor < opts.MinFactor {
		factor = opts.MinFactor
	}
	if opts.MaxFactor > 0 && factor > opts.MaxFactor {
		factor = opts.MaxFactor
	}
	return factor
}

// PlanSegments decides per segment whether to skip, copy or stretch it.
func PlanSegments(segments []model.Segment, stats []model.SpeakerStat, targets []model.TargetSpec, opts PlanOptions) []SegmentPlan {
	factors := speakerFactors(stats, targets, opts)

	plans := make([]SegmentPlan, 0, len(segments))
	for i, seg := range segments {
		p := SegmentPlan{Index: i, Segment: seg, Factor: 1.0, Action: ActionCopy}
		switch {
		case seg.DurationMs() <= 0:
			p.Action = ActionSkip
		case seg.Speaker != nil:
			if f, ok := factors[*seg.Speaker]; ok && f != 1.0 {
				p.Factor = f
				p.Action = ActionStretch
			}
		}
		plans = append(plans, p)
	}
	return plans
}

// NeedsReconstruction reports whether any planned segment would be stretched.
func NeedsReconstruction(plans []SegmentPlan) bool {
	for _, p := range plans {
		if p.Action == ActionStretch {
			return true
		}
	}
	return false
}
