// Package splitter cuts oversized media into parts by duration so every part
// stays playable on its own.
package splitter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/pkg/logger"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

const defaultRefinements = 3

type MediaTool interface {
	Duration(ctx context.Context, path string) (float64, error)
	CutSegment(ctx context.Context, path string, start, length float64, out string) error
}

type Splitter struct {
	tool MediaTool
	// Refinements bounds how many times a split is redone with one more part
	// when stream-copy produces a part above the cap.
	Refinements int
}

func New(tool MediaTool) *Splitter {
	return &Splitter{tool: tool, Refinements: defaultRefinements}
}

// PartPath names part n (1-based) of path, e.g. movie.part002.mp4.
func PartPath(path string, n int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.part%03d%s", strings.TrimSuffix(path, ext), n, ext)
}

// Split returns path unchanged when it fits in maxPartBytes. Otherwise it cuts
// ceil(size/maxPartBytes) parts and deletes the original once all exist.
func (s *Splitter) Split(ctx context.Context, path string, maxPartBytes int64) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	size := fi.Size()
	if maxPartBytes <= 0 || size <= maxPartBytes {
		return []string{path}, nil
	}

	dur, err := s.tool.Duration(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.CodeUnsplittableArtifact, "cannot read media duration", err)
	}
	if dur <= 0 {
		return nil, errs.New(errs.CodeUnsplittableArtifact, "media duration is unknown")
	}

	total := int((size + maxPartBytes - 1) / maxPartBytes)

	for round := 0; round <= s.Refinements; round++ {
		parts, err := s.cut(ctx, path, dur, total)
		if err != nil {
			removeAll(parts)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errs.Wrap(errs.CodeUnsplittableArtifact, "failed to cut segment", err)
		}

		oversized, err := verify(parts, maxPartBytes)
		if err != nil {
			removeAll(parts)
			return nil, errs.Wrap(errs.CodeUnsplittableArtifact, "part missing after cut", err)
		}
		if !oversized {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove original after split", "path", path, "error", err)
			}
			logger.Info("Artifact split", "path", filepath.Base(path), "parts", total, "duration", dur)
			return parts, nil
		}

		logger.Warn("Part above size cap, splitting finer", "path", filepath.Base(path), "parts", total)
		removeAll(parts)
		total++
	}

	return nil, errs.Newf(errs.CodeUnsplittableArtifact, "could not split into parts under %s", utils.FormatFileSize(maxPartBytes))
}

func (s *Splitter) cut(ctx context.Context, path string, dur float64, total int) ([]string, error) {
	slice := dur / float64(total)
	parts := make([]string, 0, total)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return parts, err
		}
		start := slice * float64(i)
		length := slice
		if i == total-1 {
			length = dur - start
		}
		out := PartPath(path, i+1)
		parts = append(parts, out)
		if err := s.tool.CutSegment(ctx, path, start, length, out); err != nil {
			return parts, err
		}
	}
	return parts, nil
}

func verify(parts []string, maxPartBytes int64) (bool, error) {
	oversized := false
	for _, p := range parts {
		fi, err := os.Stat(p)
		if err != nil {
			return false, err
		}
		if fi.Size() == 0 {
			return false, fmt.Errorf("part %s is empty", filepath.Base(p))
		}
		if fi.Size() > maxPartBytes {
			oversized = true
		}
	}
	return oversized, nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = utils.RemoveQuietly(p)
	}
}
