// Package http holds download helpers on top of net/http.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const defaultMaxResumes = 3

var ErrRangeIgnored = errors.New("server ignored range request")

// ResumableReader reads a download body and, when the connection breaks
// before total bytes arrived, reopens it with a Range request from the
// current offset.
type ResumableReader struct {
	ctx     context.Context
	client  *http.Client
	url     string
	headers map[string]string

	body    io.ReadCloser
	offset  int64
	total   int64
	resumes int

	MaxResumes int
}

// NewResumableReader wraps an already open body of a response whose length is total.
func NewResumableReader(ctx context.Context, client *http.Client, url string, headers map[string]string, body io.ReadCloser, total int64) *ResumableReader {
	return &ResumableReader{
		ctx:        ctx,
		client:     client,
		url:        url,
		headers:    headers,
		body:       body,
		total:      total,
		MaxResumes: defaultMaxResumes,
	}
}

// Resumes reports how many times the body was reopened.
func (r *ResumableReader) Resumes() int {
	return r.resumes
}

func (r *ResumableReader) Read(p []byte) (int, error) {
	if r.body == nil {
		return 0, io.ErrClosedPipe
	}

	n, err := r.body.Read(p)
	r.offset += int64(n)
	if err == nil {
		return n, nil
	}
	if err == io.EOF {
		if r.total <= 0 || r.offset >= r.total {
			return n, io.EOF
		}
		err = io.ErrUnexpectedEOF
	}
	if r.ctx.Err() != nil || r.resumes >= r.MaxResumes {
		return n, err
	}

	r.body.Close()
	r.body = nil
	if rerr := r.reopen(); rerr != nil {
		return n, fmt.Errorf("resume at %d: %w (after %v)", r.offset, rerr, err)
	}
	r.resumes++
	if n > 0 {
		return n, nil
	}
	return r.Read(p)
}

func (r *ResumableReader) reopen() error {
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return err
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", r.offset))

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return ErrRangeIgnored
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	r.body = resp.Body
	return nil
}

func (r *ResumableReader) Close() error {
	if r.body == nil {
		return nil
	}
	err := r.body.Close()
	r.body = nil
	return err
}
