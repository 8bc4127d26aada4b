// Package media runs ffprobe and ffmpeg as external processes.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	FFmpegCommand  = "ffmpeg"
	FFprobeCommand = "ffprobe"
)

type Tool struct {
	FFmpeg  string
	FFprobe string
}

func New(ffmpeg, ffprobe string) *Tool {
	if ffmpeg == "" {
		ffmpeg = FFmpegCommand
	}
	if ffprobe == "" {
		ffprobe = FFprobeCommand
	}
	return &Tool{FFmpeg: ffmpeg, FFprobe: ffprobe}
}

type Info struct {
	Duration float64
	Width    int
	Height   int
	HasVideo bool
}

// Duration returns the container duration in seconds.
func (t *Tool) Duration(ctx context.Context, path string) (float64, error) {
	out, err := t.run(ctx, t.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}

	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	return d, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe reads duration and the first video stream's dimensions.
func (t *Tool) Probe(ctx context.Context, path string) (Info, error) {
	out, err := t.run(ctx, t.FFprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe: %w", err)
	}

	var p probeOutput
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		return Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info Info
	info.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)
	for _, s := range p.Streams {
		if s.CodecType == "video" {
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	return info, nil
}

// CutSegment stream-copies length seconds starting at start into out.
func (t *Tool) CutSegment(ctx context.Context, path string, start, length float64, out string) error {
	_, err := t.run(ctx, t.FFmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(start),
		"-i", path,
		"-t", formatSeconds(length),
		"-map", "0",
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		out,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg cut %s: %w", out, err)
	}
	return nil
}

// Thumbnail grabs one frame near the start of a video as a small JPEG.
func (t *Tool) Thumbnail(ctx context.Context, path, out string) error {
	_, err := t.run(ctx, t.FFmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", "00:00:01",
		"-i", path,
		"-frames:v", "1",
		"-vf", "scale=320:-2",
		out,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail: %w", err)
	}
	return nil
}

func (t *Tool) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
