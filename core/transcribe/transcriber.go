package transcribe

import (
	"context"
	"errors"
	"fmt"
)

// Status 转写任务状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Utterance is one diarized speaker turn. Times are milliseconds.
type Utterance struct {
	Speaker *string
	StartMs int64
	EndMs   int64
	Text    string
}

// Result is a single poll response.
type Result struct {
	Status     Status
	Utterances []Utterance
	Error      string
}

// Transcriber submits audio for diarized transcription and polls for the result.
type Transcriber interface {
	Submit(ctx context.Context, audio []byte) (string, error)
	Poll(ctx context.Context, handle string) (*Result, error)
}

// APIError is a non-2xx response from the transcription service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcription service returned %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying: network failures, 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}
