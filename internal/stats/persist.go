package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pavelc4/aether-queue/pkg/logger"
)

// Save writes the counters to disk through a temporary file.
func (s *Stats) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}

// Load restores counters saved by a previous run. A missing file is not an error.
func (s *Stats) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read stats: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("decode stats: %w", err)
	}
	for _, m := range []*map[string]*PeriodStats{&s.DailyStats, &s.WeeklyStats, &s.MonthlyStats} {
		if *m == nil {
			*m = make(map[string]*PeriodStats)
		}
	}
	if s.UniqueUsers == nil {
		s.UniqueUsers = make(map[int64]bool)
	}
	if s.PlatformStats == nil {
		s.PlatformStats = make(map[string]int64)
	}
	return nil
}

func (s *Stats) isDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Run saves changed counters every interval and once more when ctx ends.
func (s *Stats) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Save(); err != nil {
				logger.Error("Failed to save stats", "error", err)
			}
			return nil
		case <-ticker.C:
			if !s.isDirty() {
				continue
			}
			if err := s.Save(); err != nil {
				logger.Error("Failed to save stats", "error", err)
			}
		}
	}
}
