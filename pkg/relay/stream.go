package relay

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Concat downloads urls one after another and writes each body to w as it
// arrives. It stops at the first failed segment and returns the bytes
// written so far.
func (r *Relay) Concat(ctx context.Context, w io.Writer, urls []string, headers map[string]string) (int64, error) {
	return r.concatFrom(ctx, w, urls, headers, 0)
}

func (r *Relay) concatFrom(ctx context.Context, w io.Writer, urls []string, headers map[string]string, start int) (int64, error) {
	var total int64
	for i := start; i < len(urls); i++ {
		resp, err := r.fetch(ctx, i, urls[i], headers)
		if err != nil {
			return total, err
		}

		n, err := io.Copy(w, resp.Body)
		resp.Body.Close()
		total += n
		if err != nil {
			return total, &SegmentError{Index: i, URL: urls[i], Err: fmt.Errorf("error relaying body: %w", err)}
		}
		r.logger.Debug("segment relayed", "index", i, "bytes", n)
	}
	return total, nil
}

// Stream is the concatenated body of a download. Reading it drives the
// segment fetches; closing it early aborts the download.
type Stream struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (s *Stream) Close() error {
	s.cancel()
	return s.PipeReader.Close()
}

// Open fetches the first segment and, if that succeeds, returns a Stream that
// yields it followed by every remaining segment in order. A failure after the
// first segment surfaces as a read error on the Stream, never as a clean EOF.
func (r *Relay) Open(ctx context.Context, urls []string, headers map[string]string) (*Stream, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no segments to download")
	}

	ctx, cancel := context.WithCancel(ctx)

	first, err := r.fetch(ctx, 0, urls[0], headers)
	if err != nil {
		cancel()
		return nil, err
	}

	pr, pw := io.Pipe()

	go func() {
		defer cancel()
		start := time.Now()

		n, err := io.Copy(pw, first.Body)
		first.Body.Close()
		if err != nil {
			err = &SegmentError{Index: 0, URL: urls[0], Err: fmt.Errorf("error relaying body: %w", err)}
		} else {
			var rest int64
			rest, err = r.concatFrom(ctx, pw, urls, headers, 1)
			n += rest
		}

		if err != nil {
			r.logger.Error("download aborted", "error", err, "bytes", n)
			pw.CloseWithError(err)
			return
		}

		r.logger.Info("download complete", "segments", len(urls), "bytes", n, "duration", time.Since(start))
		pw.Close()
	}()

	return &Stream{PipeReader: pr, cancel: cancel}, nil
}
