package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/buffer"
	rangehttp "github.com/pavelc4/aether-queue/pkg/http"
	"github.com/pavelc4/aether-queue/pkg/logger"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

const (
	minFileSize = 1024
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Direct downloads links that already point at a media file.
type Direct struct {
	WorkDir string
	Client  *http.Client
	Timeout time.Duration
}

func NewDirect(workDir string) *Direct {
	return &Direct{
		WorkDir: workDir,
		Client:  utils.GetDownloadClient(),
		Timeout: ytdlpTimeout,
	}
}

func (d *Direct) Name() string {
	return "direct"
}

func (d *Direct) Supports(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Host == "drive.google.com" && strings.HasPrefix(u.Path, "/uc") {
		return true
	}
	_, ok := mimeTypes[strings.ToLower(path.Ext(u.Path))]
	return ok
}

func (d *Direct) Fetch(ctx context.Context, raw string, kind task.Kind, progress ProgressFunc) (*Media, error) {
	return d.download(ctx, raw, "", nil, kind, progress)
}

// Estimate issues a HEAD request and trusts Content-Length.
func (d *Direct) Estimate(ctx context.Context, raw string, _ task.Kind) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

func (d *Direct) download(ctx context.Context, raw, suggested string, headers map[string]string, kind task.Kind, progress ProgressFunc) (*Media, error) {
	dir, err := makeJobDir(d.WorkDir, "aether-http-")
	if err != nil {
		return nil, err
	}

	m, err := d.save(ctx, raw, suggested, headers, dir, progress)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	m.Kind = kind
	return m, nil
}

func (d *Direct) save(ctx context.Context, raw, suggested string, headers map[string]string, dir string, progress ProgressFunc) (*Media, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFetchPermanent, "invalid download URL", err)
	}
	reqHeaders := map[string]string{"User-Agent": userAgent}
	for k, v := range headers {
		reqHeaders[k] = v
	}
	for k, v := range reqHeaders {
		req.Header.Set(k, v)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError("download", resp.StatusCode, string(body))
	}

	name := fileName(resp, raw, suggested)
	filePath := filepath.Join(dir, name)
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	total := resp.ContentLength
	var body io.Reader = resp.Body
	if total > 0 && resp.Header.Get("Accept-Ranges") == "bytes" {
		rr := rangehttp.NewResumableReader(ctx, d.Client, raw, reqHeaders, resp.Body, total)
		defer rr.Close()
		body = rr
	}

	start := time.Now()
	size, err := buffer.Copy(file, body, func(written int64) {
		if progress == nil {
			return
		}
		p := Progress{Downloaded: written, Total: total}
		if total > 0 {
			p.Percent = float64(written) * 100 / float64(total)
		}
		progress(p)
	})
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if size < minFileSize {
		return nil, errs.Newf(errs.CodeFetchPermanent, "file too small: %d bytes", size)
	}

	logger.InfoWithDuration("HTTP download finished", start, "file", name, "size", utils.FormatFileSize(size))

	ext := strings.ToLower(filepath.Ext(name))
	return &Media{
		Path:  filePath,
		Dir:   dir,
		Title: strings.TrimSuffix(name, filepath.Ext(name)),
		Ext:   strings.TrimPrefix(ext, "."),
		MIME:  guessMimeType(name),
		Size:  size,
	}, nil
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errs.Wrap(errs.CodeFetchTransient, "download timed out", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.Wrap(errs.CodeFetchTransient, "download interrupted", err)
	}
	return errs.Wrap(errs.CodeFetchTransient, "download failed", err)
}

// fileName prefers the server's Content-Disposition, then the suggested name,
// then the URL path, and finally the Content-Type for the extension.
func fileName(resp *http.Response, raw, suggested string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return sanitizeFilename(params["filename"])
		}
	}
	if suggested != "" {
		return sanitizeFilename(suggested)
	}

	base := ""
	if u, err := url.Parse(raw); err == nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "/" || base == "." {
		base = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	if filepath.Ext(base) == "" {
		ct := resp.Header.Get("Content-Type")
		ext := ".bin"
		for prefix, e := range contentTypeToExt {
			if strings.HasPrefix(ct, prefix) {
				ext = e
				break
			}
		}
		base += ext
	}
	return sanitizeFilename(base)
}
