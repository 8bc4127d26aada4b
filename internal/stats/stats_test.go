package stats

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(s *Stats, t time.Time) {
	s.now = func() time.Time { return t }
}

func TestRecordDownload(t *testing.T) {
	s := New("")
	fixedClock(s, time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))

	s.RecordDownload(1, "youtube.com", "video", 2, 300, true)
	s.RecordDownload(1, "youtube.com", "audio", 1, 100, true)
	s.RecordDownload(2, "tiktok.com", "auto", 0, 0, false)
	s.RecordDownload(3, "unknown", "video", 1, 50, true)

	snap := s.Snapshot()
	assert.Equal(t, int64(4), snap.TotalDownloads)
	assert.Equal(t, int64(4), snap.TotalFiles)
	assert.Equal(t, int64(450), snap.TotalBytes)
	assert.Equal(t, int64(3), snap.SuccessDownloads)
	assert.Equal(t, int64(1), snap.FailedDownloads)
	assert.Equal(t, int64(2), snap.VideoDownloads)
	assert.Equal(t, int64(1), snap.AudioDownloads)
	assert.Equal(t, int64(1), snap.AutoDownloads)
	assert.Equal(t, 3, snap.UniqueUsers)
	assert.InDelta(t, 75.0, snap.SuccessRate(), 0.001)
	assert.Equal(t, []PlatformCount{{"youtube.com", 2}, {"tiktok.com", 1}}, snap.TopPlatforms)
}

func TestPeriods(t *testing.T) {
	s := New("")
	day := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	fixedClock(s, day)
	s.RecordDownload(1, "x.com", "video", 1, 10, true)

	fixedClock(s, day.AddDate(0, 0, 1))
	s.RecordDownload(2, "x.com", "video", 1, 20, true)

	today := s.Period("today")
	require.NotNil(t, today)
	assert.Equal(t, int64(1), today.Downloads)
	assert.Equal(t, int64(20), today.Bytes)

	month := s.Period("month")
	require.NotNil(t, month)
	assert.Equal(t, int64(2), month.Downloads)
	assert.Len(t, month.Users, 2)

	assert.Nil(t, s.Period("year"))

	fixedClock(s, day.AddDate(0, 2, 0))
	assert.Nil(t, s.Period("today"))
}

func TestWeekKeyUsesISOYear(t *testing.T) {
	assert.Equal(t, "2026-W01", weekKey(time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-W10", weekKey(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)))
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "stats.json")
	s := New(path)
	s.RecordDownload(7, "instagram.com", "video", 3, 900, true)
	require.NoError(t, s.Save())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded := New(path)
	require.NoError(t, loaded.Load())
	snap := loaded.Snapshot()
	assert.Equal(t, int64(1), snap.TotalDownloads)
	assert.Equal(t, int64(900), snap.TotalBytes)
	assert.Equal(t, []PlatformCount{{"instagram.com", 1}}, snap.TopPlatforms)
	require.NotNil(t, loaded.Period("today"))

	loaded.RecordDownload(8, "instagram.com", "audio", 1, 1, true)
	assert.Equal(t, 2, loaded.Snapshot().UniqueUsers)
}

func TestLoadMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, s.Load())
	assert.Zero(t, s.Snapshot().TotalDownloads)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Error(t, New(path).Load())
}

func TestRunSavesOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	s := New(path)
	s.RecordDownload(1, "vimeo.com", "video", 1, 5, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Hour) }()
	cancel()
	require.NoError(t, <-done)

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestHostInfo(t *testing.T) {
	info := NewHost(t.TempDir()).Info(context.Background())
	assert.Positive(t, info.CPUCores)
	assert.Equal(t, os.Getpid(), info.ProcessPID)
	assert.NotEmpty(t, info.GoVersion)
	assert.Positive(t, info.Goroutines)
}
