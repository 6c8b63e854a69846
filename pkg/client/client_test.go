package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/andesco/hlsladder/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var form = playlist.FormInput{
	PlaylistFile: "#EXTM3U\n#EXTINF:4,\nhttps://server.net/video0.ts\n#EXTINF:4,\nhttps://server.net/video1.ts\n",
	Headers:      "Referer:\nhttps://server.net/",
}

// statusLog collects status changes from OnStatus.
type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (l *statusLog) record(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *statusLog) get() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.statuses...)
}

func TestSubmitSuccess(t *testing.T) {
	received := make(chan playlist.DownloadRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/download", r.URL.Path)
		var req playlist.DownloadRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received <- req
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("seg0"))
		w.(http.Flusher).Flush()
		w.Write([]byte("seg1"))
	}))
	defer srv.Close()

	log := &statusLog{}
	c := New(srv.URL+"/", nil)
	c.ResetAfter = 20 * time.Millisecond
	c.OnStatus = log.record

	var buf bytes.Buffer
	n, err := c.Submit(context.Background(), form, &buf)
	require.NoError(t, err)

	assert.Equal(t, int64(8), n)
	assert.Equal(t, "seg0seg1", buf.String())
	got := <-received
	assert.Equal(t, []string{"https://server.net/video0.ts", "https://server.net/video1.ts"}, got.VideoURLs)
	assert.Equal(t, map[string]string{"referer": "https://server.net/"}, got.ParsedHeaders)

	require.Eventually(t, func() bool { return len(log.get()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusIdle, c.Status())
	assert.Equal(t, []Status{StatusLoading, StatusSuccess, StatusIdle}, log.get())
}

func TestSubmitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "No headers found", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.ResetAfter = 0

	_, err := c.Submit(context.Background(), form, &bytes.Buffer{})

	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.Equal(t, "No headers found", serr.Message)
	assert.Equal(t, StatusError, c.Status())
}

func TestSubmitTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("partial"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.ResetAfter = 0

	var buf bytes.Buffer
	_, err := c.Submit(context.Background(), form, &buf)
	assert.ErrorContains(t, err, "download interrupted")
	assert.Equal(t, StatusError, c.Status())
}

func TestSubmitInvalidFormLeavesStatus(t *testing.T) {
	c := New("http://127.0.0.1:0", nil)
	log := &statusLog{}
	c.OnStatus = log.record

	_, err := c.Submit(context.Background(), playlist.FormInput{PlaylistFile: "#EXTM3U", Headers: "Referer:\nx"}, &bytes.Buffer{})

	var verr *playlist.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "No video urls found", verr.Message)
	assert.Equal(t, StatusIdle, c.Status())
	assert.Empty(t, log.get())
}

func TestNewStatusCancelsPendingReset(t *testing.T) {
	c := New("http://unused", nil)
	c.ResetAfter = 30 * time.Millisecond

	c.setStatus(StatusError)
	c.setStatus(StatusLoading)

	assert.Never(t, func() bool { return c.Status() != StatusLoading }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "idle", StatusIdle.String())
	assert.Equal(t, "loading", StatusLoading.String())
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "unknown", Status(42).String())
}
