// Package client submits downloads to an hlsladder server and saves the
// streamed result.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andesco/hlsladder/pkg/playlist"
	"github.com/hashicorp/go-hclog"
)

const (
	DefaultResetAfter = 3 * time.Second

	maxErrorBody = 4 << 10
)

// ServerError is a non-200 answer from the server. Message is the server's
// plain-text explanation.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// ResetAfter is how long Success or Error is kept before the status goes
	// back to Idle. Zero keeps it forever.
	ResetAfter time.Duration
	// OnStatus, if set, is called on every status change. It must not block.
	OnStatus func(Status)

	logger hclog.Logger

	mu     sync.Mutex
	status Status
	gen    uint64
	timer  *time.Timer
}

func New(baseURL string, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{},
		ResetAfter: DefaultResetAfter,
		logger:     logger,
	}
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Submit extracts a download request from pasted text and downloads it into
// w. Input that fails validation is returned as a *playlist.ValidationError
// without touching the status.
func (c *Client) Submit(ctx context.Context, form playlist.FormInput, w io.Writer) (int64, error) {
	req, err := form.DownloadRequest()
	if err != nil {
		return 0, err
	}

	c.setStatus(StatusLoading)
	n, err := c.Download(ctx, req, w)
	if err != nil {
		c.logger.Error("download failed", "error", err, "bytes", n)
		c.setStatus(StatusError)
		return n, err
	}

	c.logger.Info("download complete", "segments", len(req.VideoURLs), "bytes", n)
	c.setStatus(StatusSuccess)
	return n, nil
}

// Download posts req to the server and copies the streamed body into w.
func (c *Client) Download(ctx context.Context, req *playlist.DownloadRequest, w io.Writer) (int64, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("error encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/download", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("error contacting server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, &ServerError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download interrupted after %d bytes: %w", n, err)
	}
	return n, nil
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if (s == StatusSuccess || s == StatusError) && c.ResetAfter > 0 {
		gen := c.gen
		c.timer = time.AfterFunc(c.ResetAfter, func() { c.reset(gen) })
	}
	c.mu.Unlock()

	c.notify(s)
}

// reset returns to Idle unless the status changed since gen was taken.
func (c *Client) reset(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.status = StatusIdle
	c.gen++
	c.timer = nil
	c.mu.Unlock()

	c.notify(StatusIdle)
}

func (c *Client) notify(s Status) {
	c.logger.Debug("status changed", "status", s)
	if c.OnStatus != nil {
		c.OnStatus(s)
	}
}
