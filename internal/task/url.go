package task

import (
	"net/url"
	"path"
	"strings"

	"github.com/pavelc4/aether-queue/internal/errs"
)

var audioExtensions = []string{".mp3", ".m4a", ".webm", ".aac", ".ogg", ".opus", ".flac", ".wav"}

// ValidateURL rejects anything that is not an absolute http(s) link.
// Torrent and magnet links are recognised and refused explicitly.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errs.New(errs.CodeInvalidRequest, "empty URL")
	}
	if IsTorrent(raw) {
		return errs.New(errs.CodeInvalidRequest, "torrent and magnet links are not supported")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errs.Wrap(errs.CodeInvalidRequest, "malformed URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errs.Newf(errs.CodeInvalidRequest, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errs.New(errs.CodeInvalidRequest, "URL has no host")
	}
	return nil
}

func IsTorrent(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "magnet:") || strings.HasSuffix(lower, ".torrent")
}

// NormalizeURL rewrites share links into a form fetchers can download directly.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "drive.google.com") {
		return fixDriveURL(raw)
	}
	return raw
}

func fixDriveURL(raw string) string {
	if strings.Contains(raw, "uc?id=") || strings.Contains(raw, "export=download") {
		return raw
	}
	_, rest, ok := strings.Cut(raw, "/file/d/")
	if !ok {
		return raw
	}
	id, _, _ := strings.Cut(rest, "/")
	id, _, _ = strings.Cut(id, "?")
	if id == "" {
		return raw
	}
	return "https://drive.google.com/uc?id=" + id + "&export=download"
}

// ResolveKind turns KindAuto into Audio for links to audio files and Video otherwise.
func ResolveKind(raw string, k Kind) Kind {
	if k != KindAuto {
		return k
	}
	u, err := url.Parse(raw)
	if err != nil {
		return KindVideo
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, a := range audioExtensions {
		if ext == a {
			return KindAudio
		}
	}
	return KindVideo
}

// ExtractURL returns the first link found in free text.
func ExtractURL(text string) string {
	for _, f := range strings.Fields(text) {
		lower := strings.ToLower(f)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || IsTorrent(f) {
			return f
		}
	}
	return ""
}

// Platform names the site a link points at, e.g. "youtube.com".
func Platform(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range []string{"www.", "m.", "mobile.", "music."} {
		host = strings.TrimPrefix(host, p)
	}
	if host == "youtu.be" {
		return "youtube.com"
	}
	return host
}
