package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	tool := New("", "")
	assert.Equal(t, FFmpegCommand, tool.FFmpeg)
	assert.Equal(t, FFprobeCommand, tool.FFprobe)
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "12.500", formatSeconds(12.5))
	assert.Equal(t, "0.000", formatSeconds(0))
}

func TestMissingBinary(t *testing.T) {
	tool := New("aether-no-such-ffmpeg", "aether-no-such-ffprobe")

	_, err := tool.Duration(context.Background(), "x.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe duration")

	err = tool.CutSegment(context.Background(), "x.mp4", 0, 1, "y.mp4")
	assert.Error(t, err)
}
