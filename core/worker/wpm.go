package worker

import (
	"math"
	"strings"

	"PaceShift/core/transcribe"
	"PaceShift/model"
)

// ComputeSpeakerStats measures each labeled speaker's rate over its utterances.
// Speakers are returned in order of first appearance; unlabeled speech and
// utterances without a positive duration do not count.
func ComputeSpeakerStats(utterances []transcribe.Utterance) []model.SpeakerStat {
	type tally struct {
		words      int
		durationMs int64
	}

	var order []string
	tallies := make(map[string]*tally)

	for _, u := range utterances {
		if u.Speaker == nil || u.EndMs <= u.StartMs {
			continue
		}
		t, ok := tallies[*u.Speaker]
		if !ok {
			t = &tally{}
			tallies[*u.Speaker] = t
			order = append(order, *u.Speaker)
		}
		t.words += len(strings.Fields(u.Text))
		t.durationMs += u.EndMs - u.StartMs
	}

	stats := make([]model.SpeakerStat, 0, len(order))
	for _, speaker := range order {
		t := tallies[speaker]
		stats = append(stats, model.SpeakerStat{
			Speaker:              speaker,
			AverageWPM:           averageWPM(t.words, t.durationMs),
			TotalWords:           t.words,
			TotalDurationSeconds: float64(t.durationMs) / 1000,
		})
	}
	return stats
}

// averageWPM 非零词数与非零时长时至少为 1
func averageWPM(words int, durationMs int64) int {
	if words <= 0 || durationMs <= 0 {
		return 0
	}
	wpm := int(math.Round(float64(words) / (float64(durationMs) / 1000) * 60))
	if wpm < 1 {
		wpm = 1
	}
	return wpm
}

// BuildSegments maps utterances one-to-one onto segments, keeping unlabeled ones.
func BuildSegments(utterances []transcribe.Utterance) []model.Segment {
	segments := make([]model.Segment, 0, len(utterances))
	for _, u := range utterances {
		var speaker *string
		if u.Speaker != nil {
			label := *u.Speaker
			speaker = &label
		}
		segments = append(segments, model.Segment{Speaker: speaker, StartMs: u.StartMs, EndMs: u.EndMs})
	}
	return segments
}
