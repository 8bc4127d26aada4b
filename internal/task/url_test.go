package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelc4/aether-queue/internal/errs"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"https", "https://www.youtube.com/watch?v=abc", true},
		{"http", "http://example.com/a.mp4", true},
		{"empty", "  ", false},
		{"no scheme", "example.com/video", false},
		{"ftp", "ftp://example.com/file", false},
		{"magnet", "magnet:?xt=urn:btih:abc", false},
		{"torrent", "https://example.com/file.torrent", false},
		{"no host", "https:///path", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidRequest)
		})
	}
}

func TestNormalizeURLDrive(t *testing.T) {
	got := NormalizeURL("https://drive.google.com/file/d/1AbC/view?usp=sharing")
	assert.Equal(t, "https://drive.google.com/uc?id=1AbC&export=download", got)

	direct := "https://drive.google.com/uc?id=1AbC&export=download"
	assert.Equal(t, direct, NormalizeURL(direct))
	assert.Equal(t, "https://example.com/x", NormalizeURL(" https://example.com/x "))
}

func TestResolveKind(t *testing.T) {
	assert.Equal(t, KindAudio, ResolveKind("https://cdn.example.com/song.MP3?x=1", KindAuto))
	assert.Equal(t, KindVideo, ResolveKind("https://youtu.be/abc", KindAuto))
	assert.Equal(t, KindAudio, ResolveKind("https://youtu.be/abc", KindAudio))
}

func TestExtractURL(t *testing.T) {
	assert.Equal(t, "https://youtu.be/x", ExtractURL("look https://youtu.be/x please"))
	assert.Equal(t, "", ExtractURL("no links here"))
}

func TestPlatform(t *testing.T) {
	assert.Equal(t, "youtube.com", Platform("https://www.youtube.com/watch?v=1"))
	assert.Equal(t, "youtube.com", Platform("https://youtu.be/x"))
	assert.Equal(t, "tiktok.com", Platform("https://m.tiktok.com/@a/video/1"))
	assert.Equal(t, "unknown", Platform("not a link"))
}
