package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SubmitUploadsThenCreatesTranscript(t *testing.T) {
	var uploaded []byte
	var created transcriptRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v2/upload":
			uploaded, _ = io.ReadAll(r.Body)
			w.Write([]byte(`{"upload_url":"https://cdn.example/abc"}`))
		case "/v2/transcript":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.Write([]byte(`{"id":"tr-1","status":"queued"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second)
	handle, err := c.Submit(context.Background(), []byte("RIFFdata"))

	require.NoError(t, err)
	assert.Equal(t, "tr-1", handle)
	assert.Equal(t, []byte("RIFFdata"), uploaded)
	assert.Equal(t, "https://cdn.example/abc", created.AudioURL)
	assert.True(t, created.SpeakerLabels)
}

func TestClient_PollMapsUtterances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/transcript/tr-1", r.URL.Path)
		w.Write([]byte(`{"id":"tr-1","status":"completed","utterances":[
			{"speaker":"A","start":0,"end":1500,"text":"hello there"},
			{"speaker":null,"start":1500,"end":2000,"text":"hm"}]}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "k", time.Second).Poll(context.Background(), "tr-1")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.Utterances, 2)
	assert.Equal(t, "A", *res.Utterances[0].Speaker)
	assert.Equal(t, int64(1500), res.Utterances[0].EndMs)
	assert.Equal(t, "hello there", res.Utterances[0].Text)
	assert.Nil(t, res.Utterances[1].Speaker)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"tr-1","status":"processing"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "k", 5*time.Second).Poll(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, res.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ClientErrorIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", 5*time.Second).Poll(context.Background(), "tr-1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&APIError{StatusCode: 503}))
	assert.True(t, IsTransient(&APIError{StatusCode: 429}))
	assert.False(t, IsTransient(&APIError{StatusCode: 400}))
	assert.True(t, IsTransient(errors.New("connection reset")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}
