package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

const (
	ytdlpTimeout    = 30 * time.Minute
	estimateTimeout = time.Minute

	videoFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	audioFormat = "bestaudio/best"
)

var (
	ytdlpProgressRegex = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%\s+of\s+~?\s*(\S+)(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)
	idSuffixRegex      = regexp.MustCompile(`\s*\[[A-Za-z0-9_-]+\]$`)

	cookieSites = []struct {
		domains []string
		file    string
	}{
		{[]string{"youtube.com", "youtu.be"}, "youtube.txt"},
		{[]string{"instagram.com", "instagr.am"}, "instagram.txt"},
		{[]string{"tiktok.com"}, "tiktok.txt"},
		{[]string{"twitter.com", "x.com"}, "twitter.txt"},
		{[]string{"facebook.com", "fb.watch"}, "facebook.txt"},
	}

	transientPatterns = []string{
		"http error 429",
		"too many requests",
		"rate-limit",
		"rate limit",
		"please wait",
		"timed out",
		"connection reset",
		"temporary failure in name resolution",
		"http error 500",
		"http error 502",
		"http error 503",
		"http error 504",
		"unable to download video data",
	}

	permanentPatterns = []string{
		"unsupported url",
		"requested format is not available",
		"video unavailable",
		"private video",
		"this video is not available",
		"confirm your age",
		"not available in your country",
		"http error 404",
		"http error 403",
		"is not a valid url",
		"no video formats found",
	}
)

// YtDlp fetches anything yt-dlp can extract. It is the catch-all provider.
type YtDlp struct {
	Binary     string
	WorkDir    string
	CookiesDir string
	Timeout    time.Duration
}

func NewYtDlp(binary, workDir, cookiesDir string) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{
		Binary:     binary,
		WorkDir:    workDir,
		CookiesDir: cookiesDir,
		Timeout:    ytdlpTimeout,
	}
}

func (y *YtDlp) Name() string {
	return "yt-dlp"
}

func (y *YtDlp) Supports(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (y *YtDlp) Fetch(ctx context.Context, url string, kind task.Kind, progress ProgressFunc) (*Media, error) {
	dir, err := makeJobDir(y.WorkDir, "aether-ytdlp-")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, y.Timeout)
	defer cancel()

	args := y.buildArgs(url, kind, dir)
	cmd := exec.CommandContext(ctx, y.Binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, errs.Wrap(errs.CodeFetchPermanent, "failed to start yt-dlp", err)
	}

	trackProgress(stdout, progress)

	if err := cmd.Wait(); err != nil {
		os.RemoveAll(dir)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.Wrap(errs.CodeFetchTransient, "yt-dlp timed out", ctx.Err())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyYtdlpError(stderr.String(), err)
	}

	path, size, err := pickOutput(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	logger.InfoWithDuration("yt-dlp download finished", start, "file", filepath.Base(path), "size", humanize.IBytes(uint64(size)))

	ext := strings.ToLower(filepath.Ext(path))
	return &Media{
		Path:  path,
		Dir:   dir,
		Title: titleFromFile(path),
		Ext:   strings.TrimPrefix(ext, "."),
		MIME:  guessMimeType(path),
		Size:  size,
		Kind:  kind,
	}, nil
}

func (y *YtDlp) buildArgs(url string, kind task.Kind, dir string) []string {
	args := []string{
		"-o", filepath.Join(dir, "%(title).80s [%(id)s].%(ext)s"),
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--progress",
		"--socket-timeout", "60",
		"--retries", "5",
		"--fragment-retries", "5",
		"--retry-sleep", "3",
	}

	if kind == task.KindAudio {
		args = append(args,
			"-f", audioFormat,
			"-x",
			"--audio-format", "mp3",
			"--audio-quality", "0",
		)
	} else {
		args = append(args,
			"-f", videoFormat,
			"--merge-output-format", "mp4",
		)
	}

	if cookies := y.cookieFile(url); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	return append(args, url)
}

// cookieFile picks a per-site cookie file, falling back to cookies.txt.
func (y *YtDlp) cookieFile(url string) string {
	if y.CookiesDir == "" {
		return ""
	}
	lower := strings.ToLower(url)
	candidates := []string{}
	for _, s := range cookieSites {
		for _, d := range s.domains {
			if strings.Contains(lower, d) {
				candidates = append(candidates, s.file)
				break
			}
		}
	}
	candidates = append(candidates, "cookies.txt")

	for _, name := range candidates {
		p := filepath.Join(y.CookiesDir, name)
		if _, err := os.Stat(p); err == nil {
			logger.Debug("Using yt-dlp cookies", "path", p)
			return p
		}
	}
	return ""
}

type ytdlpMeta struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Ext         string  `json:"ext"`
	Duration    float64 `json:"duration"`
	FileSize    int64   `json:"filesize,omitempty"`
	FileSizeApp int64   `json:"filesize_approx,omitempty"`
	TBR         float64 `json:"tbr,omitempty"`
}

// size returns the best size guess; 0 when yt-dlp gives nothing to go on.
func (m ytdlpMeta) size() int64 {
	if m.FileSize > 0 {
		return m.FileSize
	}
	if m.FileSizeApp > 0 {
		return m.FileSizeApp
	}
	if m.TBR > 0 && m.Duration > 0 {
		return int64((m.TBR * 1000 * m.Duration) / 8)
	}
	return 0
}

// Estimate reads metadata with --dump-json without downloading.
func (y *YtDlp) Estimate(ctx context.Context, url string, kind task.Kind) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, estimateTimeout)
	defer cancel()

	format := videoFormat
	if kind == task.KindAudio {
		format = audioFormat
	}
	args := []string{"--dump-json", "--no-playlist", "--no-warnings", "-f", format}
	if cookies := y.cookieFile(url); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, classifyYtdlpError(stderr.String(), err)
	}

	var meta ytdlpMeta
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		return 0, fmt.Errorf("decode json failed: %w", err)
	}
	return meta.size(), nil
}

func trackProgress(r io.Reader, progress ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if progress == nil {
			continue
		}
		if p, ok := parseProgressLine(scanner.Text()); ok {
			progress(p)
		}
	}
}

func parseProgressLine(line string) (Progress, bool) {
	m := ytdlpProgressRegex.FindStringSubmatch(line)
	if len(m) < 3 {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Progress{}, false
	}

	p := Progress{Percent: pct, Speed: m[3], ETA: m[4]}
	if total, err := humanize.ParseBytes(m[2]); err == nil {
		p.Total = int64(total)
		p.Downloaded = int64(float64(total) * pct / 100)
	}
	return p, true
}

// classifyYtdlpError turns yt-dlp's stderr into a fetch error.
func classifyYtdlpError(stderr string, cause error) error {
	msg := lastErrorLine(stderr)
	if msg == "" {
		msg = "yt-dlp failed"
	}
	lower := strings.ToLower(stderr)

	for _, p := range permanentPatterns {
		if strings.Contains(lower, p) {
			return errs.Wrap(errs.CodeFetchPermanent, msg, cause)
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return errs.Wrap(errs.CodeFetchTransient, msg, cause)
		}
	}
	return errs.Wrap(errs.CodeFetchPermanent, msg, cause)
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(l, "ERROR:"))
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}

// pickOutput returns the largest finished file in dir.
func pickOutput(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("read download dir: %w", err)
	}

	var best string
	var bestSize int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") || strings.Contains(name, ".temp.") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, name)
			bestSize = info.Size()
		}
	}

	if best == "" {
		return "", 0, errs.New(errs.CodeFetchPermanent, "no files downloaded")
	}
	return best, bestSize, nil
}

func titleFromFile(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimSpace(idSuffixRegex.ReplaceAllString(base, ""))
}

func makeJobDir(root, prefix string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(root, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	return dir, nil
}
