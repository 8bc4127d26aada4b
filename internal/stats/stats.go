// Package stats keeps download counters per platform and per period, and
// reports host metrics for the owner's /stats command.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type PeriodStats struct {
	Downloads int64
	Files     int64
	Bytes     int64
	Users     map[int64]bool
}

type Stats struct {
	mu   sync.RWMutex
	path string
	now  func() time.Time

	StartTime time.Time `json:"-"`

	TotalDownloads   int64
	TotalFiles       int64
	TotalBytes       int64
	SuccessDownloads int64
	FailedDownloads  int64
	AudioDownloads   int64
	VideoDownloads   int64
	AutoDownloads    int64

	UniqueUsers   map[int64]bool
	PlatformStats map[string]int64

	DailyStats   map[string]*PeriodStats // YYYY-MM-DD
	WeeklyStats  map[string]*PeriodStats // YYYY-Www
	MonthlyStats map[string]*PeriodStats // YYYY-MM

	LastDownloadTime time.Time

	dirty bool
}

// New returns empty counters persisted at path. An empty path keeps them in memory.
func New(path string) *Stats {
	return &Stats{
		path:          path,
		now:           time.Now,
		StartTime:     time.Now(),
		UniqueUsers:   make(map[int64]bool),
		PlatformStats: make(map[string]int64),
		DailyStats:    make(map[string]*PeriodStats),
		WeeklyStats:   make(map[string]*PeriodStats),
		MonthlyStats:  make(map[string]*PeriodStats),
	}
}

func (s *Stats) RecordDownload(userID int64, platform, mediaType string, files int, bytes int64, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	s.TotalDownloads++
	s.TotalFiles += int64(files)
	s.TotalBytes += bytes
	s.LastDownloadTime = now
	s.dirty = true

	if success {
		s.SuccessDownloads++
	} else {
		s.FailedDownloads++
	}

	switch mediaType {
	case "audio":
		s.AudioDownloads++
	case "video":
		s.VideoDownloads++
	default:
		s.AutoDownloads++
	}

	s.UniqueUsers[userID] = true
	if platform != "" && platform != "unknown" {
		s.PlatformStats[platform]++
	}

	recordPeriod(s.DailyStats, dayKey(now), userID, files, bytes)
	recordPeriod(s.WeeklyStats, weekKey(now), userID, files, bytes)
	recordPeriod(s.MonthlyStats, monthKey(now), userID, files, bytes)
}

func recordPeriod(stats map[string]*PeriodStats, key string, userID int64, files int, bytes int64) {
	p := stats[key]
	if p == nil {
		p = &PeriodStats{Users: make(map[int64]bool)}
		stats[key] = p
	}
	p.Downloads++
	p.Files += int64(files)
	p.Bytes += bytes
	p.Users[userID] = true
}

func dayKey(t time.Time) string   { return t.Format("2006-01-02") }
func monthKey(t time.Time) string { return t.Format("2006-01") }

func weekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Period returns a copy of the counters for "today", "week" or "month".
// It returns nil for an unknown period or one with no downloads yet.
func (s *Stats) Period(period string) *PeriodStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var p *PeriodStats
	switch period {
	case "today":
		p = s.DailyStats[dayKey(now)]
	case "week":
		p = s.WeeklyStats[weekKey(now)]
	case "month":
		p = s.MonthlyStats[monthKey(now)]
	}
	if p == nil {
		return nil
	}

	out := &PeriodStats{Downloads: p.Downloads, Files: p.Files, Bytes: p.Bytes, Users: make(map[int64]bool, len(p.Users))}
	for id := range p.Users {
		out.Users[id] = true
	}
	return out
}

type PlatformCount struct {
	Platform  string
	Downloads int64
}

type Snapshot struct {
	TotalDownloads   int64
	TotalFiles       int64
	TotalBytes       int64
	SuccessDownloads int64
	FailedDownloads  int64
	AudioDownloads   int64
	VideoDownloads   int64
	AutoDownloads    int64
	UniqueUsers      int
	TopPlatforms     []PlatformCount
	LastDownloadTime time.Time
	Uptime           time.Duration
}

// Snapshot returns the all-time counters with platforms ordered by volume.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		TotalDownloads:   s.TotalDownloads,
		TotalFiles:       s.TotalFiles,
		TotalBytes:       s.TotalBytes,
		SuccessDownloads: s.SuccessDownloads,
		FailedDownloads:  s.FailedDownloads,
		AudioDownloads:   s.AudioDownloads,
		VideoDownloads:   s.VideoDownloads,
		AutoDownloads:    s.AutoDownloads,
		UniqueUsers:      len(s.UniqueUsers),
		LastDownloadTime: s.LastDownloadTime,
		Uptime:           s.now().Sub(s.StartTime),
	}
	for name, n := range s.PlatformStats {
		snap.TopPlatforms = append(snap.TopPlatforms, PlatformCount{Platform: name, Downloads: n})
	}
	sort.Slice(snap.TopPlatforms, func(i, j int) bool {
		a, b := snap.TopPlatforms[i], snap.TopPlatforms[j]
		if a.Downloads != b.Downloads {
			return a.Downloads > b.Downloads
		}
		return a.Platform < b.Platform
	})
	return snap
}

// SuccessRate is the percentage of finished downloads that succeeded.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalDownloads == 0 {
		return 0
	}
	return float64(s.SuccessDownloads) / float64(s.TotalDownloads) * 100
}
