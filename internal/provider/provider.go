// Package provider turns a URL into a media file on local disk.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/task"
)

// Media is a fetched artifact. Dir is the job directory that owns Path.
type Media struct {
	Path     string
	Dir      string
	Title    string
	Ext      string
	MIME     string
	Size     int64
	Duration float64
	Width    int
	Height   int
	Source   string
	Kind     task.Kind
}

type Progress struct {
	Percent    float64
	Downloaded int64
	Total      int64
	Speed      string
	ETA        string
}

type ProgressFunc func(Progress)

type Fetcher interface {
	Fetch(ctx context.Context, url string, kind task.Kind, progress ProgressFunc) (*Media, error)
}

type Estimator interface {
	Estimate(ctx context.Context, url string, kind task.Kind) (int64, error)
}

type Provider interface {
	Fetcher
	Name() string
	Supports(url string) bool
}

var mimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".opus": "audio/opus",
	".flac": "audio/flac",
	".aac":  "audio/aac",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

var contentTypeToExt = map[string]string{
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
	"audio/mpeg":       ".mp3",
	"audio/mp4":        ".m4a",
	"audio/ogg":        ".ogg",
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
}

func guessMimeType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if idx := strings.Index(ext, "?"); idx != -1 {
		ext = ext[:idx]
	}
	if mime, ok := mimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// statusError maps an upstream HTTP status onto the fetch taxonomy.
func statusError(source string, code int, body string) error {
	msg := fmt.Sprintf("%s returned HTTP %d", source, code)
	if body = strings.TrimSpace(body); body != "" {
		if len(body) > 200 {
			body = body[:200]
		}
		msg += ": " + body
	}
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return errs.New(errs.CodeFetchTransient, msg)
	default:
		return errs.New(errs.CodeFetchPermanent, msg)
	}
}

func sanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if len(name) > 120 {
		ext := filepath.Ext(name)
		name = name[:120-len(ext)] + ext
	}
	return name
}
