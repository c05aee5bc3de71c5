package model

// SpeakerStat is the measured speech rate of one diarized speaker.
type SpeakerStat struct {
	Speaker              string  `json:"speaker"`
	AverageWPM           int     `json:"averageWpm"`
	TotalWords           int     `json:"totalWords"`
	TotalDurationSeconds float64 `json:"totalDurationSeconds"`
}

// Segment is a contiguous span of source audio. Speaker is nil for unknown speech.
type Segment struct {
	Speaker *string `json:"speaker"`
	StartMs int64   `json:"startMs"`
	EndMs   int64   `json:"endMs"`
}

// DurationMs 片段时长，可能为非正数
func (s Segment) DurationMs() int64 {
	return s.EndMs - s.StartMs
}

// SpeakerLabel returns the label or "" for an unattributed segment.
func (s Segment) SpeakerLabel() string {
	if s.Speaker == nil {
		return ""
	}
	return *s.Speaker
}

// TargetSpec asks for one speaker to be retimed to TargetWPM.
type TargetSpec struct {
	Speaker   string  `json:"speaker"`
	TargetWPM float64 `json:"targetWpm"`
}

// Role is the caller's plan role as carried by its token.
type Role string

const (
	RoleFree  Role = "free"
	RolePro   Role = "pro"
	RoleAdmin Role = "admin"
)
