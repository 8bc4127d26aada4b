package utils

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pavelc4/aether-queue/pkg/logger"
)

// WorkDirPrefix names every per-job directory so stale ones can be found after a restart.
const WorkDirPrefix = "aether-job-"

// TempFilePatterns contains all temporary file patterns used by the bot
var TempFilePatterns = []string{
	WorkDirPrefix + "*",
	"aether-ytdlp-*",
	"aether-http-*",
}

// CleanupTempFilesByPattern removes entries under dir matching patterns with context support
func CleanupTempFilesByPattern(ctx context.Context, dir string, patterns []string) int {
	if dir == "" {
		dir = os.TempDir()
	}
	cleaned := 0

	for _, pattern := range patterns {
		if ctx.Err() != nil {
			logger.Warn("Cleanup cancelled", "cleaned", cleaned)
			return cleaned
		}

		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			logger.Warn("Bad cleanup pattern", "pattern", pattern, "error", err)
			continue
		}

		for _, path := range matches {
			if ctx.Err() != nil {
				logger.Warn("Cleanup cancelled", "cleaned", cleaned)
				return cleaned
			}
			if err := os.RemoveAll(path); err != nil {
				logger.Warn("Failed to remove temp path", "path", path, "error", err)
				continue
			}
			cleaned++
			logger.Debug("Cleaned up", "path", filepath.Base(path))
		}
	}

	if cleaned > 0 {
		logger.Info("Temp files cleanup completed", "cleaned", cleaned)
	}
	return cleaned
}

// RemoveQuietly deletes path and treats a missing file as success.
func RemoveQuietly(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
