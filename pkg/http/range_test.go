package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenBody yields data and then fails as a reset connection would.
type brokenBody struct {
	r io.Reader
}

func (b *brokenBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset by peer")
	}
	return n, err
}

func (b *brokenBody) Close() error { return nil }

func content() []byte {
	data := make([]byte, 100_000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func rangeServer(t *testing.T, data []byte) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var ranges []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		http.ServeContent(w, r, "clip.mp4", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(ts.Close)
	return ts, &ranges
}

func TestResumesAfterBrokenBody(t *testing.T) {
	data := content()
	ts, ranges := rangeServer(t, data)

	body := &brokenBody{r: bytes.NewReader(data[:30_000])}
	r := NewResumableReader(context.Background(), ts.Client(), ts.URL, map[string]string{"User-Agent": "test"}, body, int64(len(data)))
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 1, r.Resumes())
	assert.Equal(t, []string{"bytes=30000-"}, *ranges)
}

func TestShortBodyIsResumed(t *testing.T) {
	data := content()
	ts, ranges := rangeServer(t, data)

	body := io.NopCloser(bytes.NewReader(data[:10]))
	r := NewResumableReader(context.Background(), ts.Client(), ts.URL, nil, body, int64(len(data)))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, got, len(data))
	assert.Equal(t, []string{"bytes=10-"}, *ranges)
}

func TestCompleteBodyNeedsNoResume(t *testing.T) {
	data := content()
	ts, ranges := rangeServer(t, data)

	r := NewResumableReader(context.Background(), ts.Client(), ts.URL, nil, io.NopCloser(bytes.NewReader(data)), int64(len(data)))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Zero(t, r.Resumes())
	assert.Empty(t, *ranges)
}

func TestRangeIgnored(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("full body again"))
	}))
	defer ts.Close()

	body := &brokenBody{r: bytes.NewReader([]byte("part"))}
	r := NewResumableReader(context.Background(), ts.Client(), ts.URL, nil, body, 1000)

	_, err := io.ReadAll(r)
	assert.ErrorIs(t, err, ErrRangeIgnored)
}

func TestResumeLimit(t *testing.T) {
	data := content()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Range", "bytes 0-0/100000")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer ts.Close()

	body := &brokenBody{r: bytes.NewReader(data[:5])}
	r := NewResumableReader(context.Background(), ts.Client(), ts.URL, nil, body, int64(len(data)))
	r.MaxResumes = 2

	_, err := io.ReadAll(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, int32(2), calls.Load())
}
