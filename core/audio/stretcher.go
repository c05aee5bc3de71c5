package audio

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	EngineRubberband = "rubberband"
	EngineAtempo     = "atempo"
)

// RubberbandStretcher 使用 rubberband 命令行做保持音高的变速
type RubberbandStretcher struct {
	path   string
	runner commandRunner
}

// NewRubberbandStretcher creates a stretcher around the rubberband CLI.
func NewRubberbandStretcher(path string) *RubberbandStretcher {
	return &RubberbandStretcher{path: path, runner: execRunner{}}
}

// Stretch runs `rubberband -T factor`; -T is a tempo multiplier so factor > 1 is faster.
func (s *RubberbandStretcher) Stretch(ctx context.Context, in, out string, factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("invalid tempo factor %v", factor)
	}
	args := []string{"-q", "-T", strconv.FormatFloat(factor, 'f', 6, 64), "--pitch-hq", in, out}
	return runTool(ctx, s.runner, s.path, args...)
}

// AtempoStretcher 使用 ffmpeg atempo 滤镜，不依赖 rubberband
type AtempoStretcher struct {
	ffmpegPath string
	runner     commandRunner
}

// NewAtempoStretcher creates a stretcher around ffmpeg's atempo filter.
func NewAtempoStretcher(ffmpegPath string) *AtempoStretcher {
	return &AtempoStretcher{ffmpegPath: ffmpegPath, runner: execRunner{}}
}

// Stretch applies an atempo chain whose product equals factor.
func (s *AtempoStretcher) Stretch(ctx context.Context, in, out string, factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("invalid tempo factor %v", factor)
	}
	filters := make([]string, 0, 2)
	for _, f := range AtempoChain(factor) {
		filters = append(filters, "atempo="+strconv.FormatFloat(f, 'f', 6, 64))
	}
	args := []string{"-y", "-i", in, "-filter:a", strings.Join(filters, ","), "-c:a", "pcm_s16le", out}
	return runTool(ctx, s.runner, s.ffmpegPath, args...)
}

// AtempoChain splits factor into stages within atempo's [0.5, 2.0] range.
func AtempoChain(factor float64) []float64 {
	var chain []float64
	for factor > 2.0 {
		chain = append(chain, 2.0)
		factor /= 2.0
	}
	for factor < 0.5 {
		chain = append(chain, 0.5)
		factor /= 0.5
	}
	return append(chain, factor)
}

// NewStretcher picks the engine by name.
func NewStretcher(engine, rubberbandPath, ffmpegPath string) (Stretcher, error) {
	switch strings.ToLower(engine) {
	case "", EngineRubberband:
		return NewRubberbandStretcher(rubberbandPath), nil
	case EngineAtempo:
		return NewAtempoStretcher(ffmpegPath), nil
	default:
		return nil, fmt.Errorf("unknown stretch engine %q", engine)
	}
}
