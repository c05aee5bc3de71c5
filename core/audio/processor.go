package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// MediaTool cuts segments out of a recording and joins them back together.
type MediaTool interface {
	// Extract writes durationSec seconds starting at startSec of src to dst as mono PCM.
	Extract(ctx context.Context, src, dst string, startSec, durationSec float64) error
	// Concatenate joins inputs in order into dst, encoding once.
	Concatenate(ctx context.Context, inputs []string, dst string) error
}

// Stretcher changes tempo without changing pitch. factor > 1 speeds up.
type Stretcher interface {
	Stretch(ctx context.Context, in, out string, factor float64) error
}

// commandRunner 执行外部命令，返回 stderr 供错误诊断
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	// Output 同 Run，另外返回 stdout
	Output(ctx context.Context, name string, args ...string) ([]byte, string, error)
}

type execRunner struct{}

func (r execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	_, stderr, err := r.Output(ctx, name, args...)
	return stderr, err
}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// runTool 统一的外部命令执行与错误包装
func runTool(ctx context.Context, runner commandRunner, name string, args ...string) error {
	stderr, err := runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s execution failed: %w\n%s Error: %s", name, err, name, lastLines(stderr, 10))
	}
	return nil
}

// lastLines 截取 stderr 末尾几行，ffmpeg 的真正错误通常在最后
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
