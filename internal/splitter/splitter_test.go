package splitter

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelc4/aether-queue/internal/errs"
)

type cut struct {
	start, length float64
	out           string
}

// fakeTool writes parts whose size is proportional to their length.
type fakeTool struct {
	mu          sync.Mutex
	duration    float64
	durationErr error
	bytesPerSec float64
	// inflate is added to every part on the first round only.
	inflate int
	cuts    []cut
	rounds  int
}

func (f *fakeTool) Duration(context.Context, string) (float64, error) {
	return f.duration, f.durationErr
}

func (f *fakeTool) CutSegment(_ context.Context, _ string, start, length float64, out string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if start == 0 {
		f.rounds++
	}
	f.cuts = append(f.cuts, cut{start, length, out})
	size := int(math.Ceil(length * f.bytesPerSec))
	if f.rounds == 1 {
		size += f.inflate
	}
	return os.WriteFile(out, make([]byte, size), 0o644)
}

func artifact(t *testing.T, size int) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "movie.mp4")
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
	return p
}

func TestFastPath(t *testing.T) {
	tool := &fakeTool{duration: 10}
	p := artifact(t, 100)

	parts, err := New(tool).Split(context.Background(), p, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{p}, parts)
	assert.Empty(t, tool.cuts)
	assert.FileExists(t, p)
}

func TestSplitPartCountAndDurations(t *testing.T) {
	tool := &fakeTool{duration: 90, bytesPerSec: 10}
	p := artifact(t, 900)

	parts, err := New(tool).Split(context.Background(), p, 400)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, PartPath(p, 1), parts[0])
	assert.Equal(t, filepath.Join(filepath.Dir(p), "movie.part003.mp4"), parts[2])

	var total float64
	next := 0.0
	for _, c := range tool.cuts {
		assert.InDelta(t, next, c.start, 1e-9)
		next = c.start + c.length
		total += c.length
	}
	assert.InDelta(t, 90, total, 1e-9)

	for _, part := range parts {
		assert.FileExists(t, part)
	}
	assert.NoFileExists(t, p)
}

func TestSplitRefinesOversizedParts(t *testing.T) {
	tool := &fakeTool{duration: 100, bytesPerSec: 10, inflate: 200}
	p := artifact(t, 1000)

	parts, err := New(tool).Split(context.Background(), p, 500)
	require.NoError(t, err)
	assert.Len(t, parts, 3)
	assert.Equal(t, 2, tool.rounds)
	assert.NoFileExists(t, PartPath(p, 4))
}

func TestUnknownDuration(t *testing.T) {
	p := artifact(t, 1000)

	_, err := New(&fakeTool{duration: 0}).Split(context.Background(), p, 500)
	assert.ErrorIs(t, err, errs.ErrUnsplittableArtifact)
	assert.FileExists(t, p)

	_, err = New(&fakeTool{durationErr: errors.New("invalid data")}).Split(context.Background(), p, 500)
	assert.ErrorIs(t, err, errs.ErrUnsplittableArtifact)
}

type failingCut struct{ fakeTool }

func (f *failingCut) CutSegment(ctx context.Context, path string, start, length float64, out string) error {
	if start > 0 {
		return errors.New("ffmpeg exploded")
	}
	return f.fakeTool.CutSegment(ctx, path, start, length, out)
}

func TestCutFailureKeepsOriginal(t *testing.T) {
	tool := &failingCut{fakeTool{duration: 20, bytesPerSec: 10}}
	p := artifact(t, 200)

	_, err := New(tool).Split(context.Background(), p, 100)
	assert.ErrorIs(t, err, errs.ErrUnsplittableArtifact)
	assert.FileExists(t, p)
	assert.NoFileExists(t, PartPath(p, 1))
}

func TestCancelledContext(t *testing.T) {
	tool := &fakeTool{duration: 20, bytesPerSec: 10}
	p := artifact(t, 200)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(tool).Split(ctx, p, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.FileExists(t, p)
}
