package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"PaceShift/logger"

	"github.com/cenkalti/backoff/v4"
)

// Client 对接 AssemblyAI 兼容的转写+说话人分离接口
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxElapsed time.Duration
}

// NewClient creates a client; maxElapsed bounds the retry time of one request.
func NewClient(baseURL, apiKey string, maxElapsed time.Duration) *Client {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxElapsed: maxElapsed,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type transcriptResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	Utterances []struct {
		Speaker *string `json:"speaker"`
		Start   int64   `json:"start"`
		End     int64   `json:"end"`
		Text    string  `json:"text"`
	} `json:"utterances"`
}

// Submit uploads the audio and starts a diarized transcript, returning its id.
func (c *Client) Submit(ctx context.Context, audio []byte) (string, error) {
	var up uploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v2/upload", "application/octet-stream", audio, &up); err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	if up.UploadURL == "" {
		return "", fmt.Errorf("upload audio: empty upload_url")
	}

	body, err := json.Marshal(transcriptRequest{AudioURL: up.UploadURL, SpeakerLabels: true})
	if err != nil {
		return "", err
	}

	var tr transcriptResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v2/transcript", "application/json", body, &tr); err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}
	if tr.ID == "" {
		return "", fmt.Errorf("create transcript: empty id")
	}

	logger.Info("转写任务已提交", logger.String("handle", tr.ID), logger.Int("bytes", len(audio)))
	return tr.ID, nil
}

// Poll fetches the current state of a transcript.
func (c *Client) Poll(ctx context.Context, handle string) (*Result, error) {
	var tr transcriptResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v2/transcript/"+handle, "", nil, &tr); err != nil {
		return nil, fmt.Errorf("poll transcript %s: %w", handle, err)
	}

	result := &Result{Status: Status(tr.Status), Error: tr.Error}
	for _, u := range tr.Utterances {
		result.Utterances = append(result.Utterances, Utterance{
			Speaker: u.Speaker,
			StartMs: u.Start,
			EndMs:   u.End,
			Text:    u.Text,
		})
	}
	return result, nil
}

// doJSON 带指数退避的请求，4xx（429 除外）不重试
func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body []byte, target interface{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.maxElapsed

	op := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", c.apiKey)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			if IsTransient(apiErr) {
				logger.Warn("转写服务暂时不可用，准备重试",
					logger.String("path", path),
					logger.Int("status", resp.StatusCode))
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if err := json.Unmarshal(data, target); err != nil {
			return backoff.Permanent(fmt.Errorf("json decode error: %v body=%s", err, string(data)))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
