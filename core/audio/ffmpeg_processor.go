package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"PaceShift/logger"
)

// FFmpegProcessor implements MediaTool using ffmpeg.
type FFmpegProcessor struct {
	ffmpegPath   string
	audioBitrate string
	runner       commandRunner
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath, audioBitrate string) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, audioBitrate: audioBitrate, runner: execRunner{}}
}

// FFmpegPath returns the configured ffmpeg binary.
func (p *FFmpegProcessor) FFmpegPath() string {
	return p.ffmpegPath
}

// Extract cuts [startSec, startSec+durationSec) of src into a mono 16-bit PCM WAV.
func (p *FFmpegProcessor) Extract(ctx context.Context, src, dst string, startSec, durationSec float64) error {
	if durationSec <= 0 {
		return fmt.Errorf("invalid segment duration %.3fs", durationSec)
	}

	args := []string{
		"-y",
		"-ss", formatSeconds(startSec),
		"-t", formatSeconds(durationSec),
		"-i", src,
		"-vn",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		dst,
	}
	return runTool(ctx, p.runner, p.ffmpegPath, args...)
}

// Concatenate joins inputs with the concat demuxer and encodes the result once,
// choosing the codec from dst's extension.
func (p *FFmpegProcessor) Concatenate(ctx context.Context, inputs []string, dst string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to concatenate")
	}

	listPath := filepath.Join(filepath.Dir(inputs[0]), "concat.txt")
	var list strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		// concat 列表中单引号需转义
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-vn"}
	args = append(args, p.encoderArgs(dst)...)
	args = append(args, dst)

	logger.Debug("执行FFmpeg拼接",
		logger.Int("segments", len(inputs)),
		logger.String("output", dst))

	return runTool(ctx, p.runner, p.ffmpegPath, args...)
}

// encoderArgs 根据输出格式选择编码器
func (p *FFmpegProcessor) encoderArgs(dst string) []string {
	switch strings.ToLower(filepath.Ext(dst)) {
	case ".mp3":
		return []string{"-c:a", "libmp3lame", "-b:a", p.audioBitrate}
	case ".m4a", ".aac", ".mp4":
		return []string{"-c:a", "aac", "-b:a", p.audioBitrate}
	case ".ogg", ".oga":
		return []string{"-c:a", "libvorbis", "-b:a", p.audioBitrate}
	case ".opus":
		return []string{"-c:a", "libopus", "-b:a", p.audioBitrate}
	case ".flac":
		return []string{"-c:a", "flac"}
	case ".wav":
		return []string{"-c:a", "pcm_s16le"}
	default:
		return nil
	}
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// GetAudioDuration 用 ffprobe 读取时长（秒），上传时用于校验文件可解码
func (p *FFmpegProcessor) GetAudioDuration(ctx context.Context, inputFile string) (float64, error) {
	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "json", inputFile}

	out, stderr, err := p.runner.Output(ctx, p.ffprobePath(), args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w\nffprobe Error: %s", inputFile, err, lastLines(stderr, 10))
	}
	return parseProbeDuration(out)
}

// ffprobePath ffprobe 与 ffmpeg 同目录安装
func (p *FFmpegProcessor) ffprobePath() string {
	dir, base := filepath.Split(p.ffmpegPath)
	return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
}

func parseProbeDuration(data []byte) (float64, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(data, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w\nFFprobe Output: %s", err, string(data))
	}

	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output\nFFprobe Output: %s", string(data))
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string \"%s\": %w", probeData.Format.Duration, err)
	}
	return duration, nil
}
