package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

var cobaltDomains = []string{
	"instagram.com",
	"instagr.am",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"threads.net",
	"soundcloud.com",
	"reddit.com",
	"redd.it",
	"twitch.tv",
	"facebook.com",
	"fb.watch",
	"vimeo.com",
	"pinterest.com",
	"pin.it",
	"streamable.com",
	"bilibili.com",
	"dailymotion.com",
	"vk.com",
	"tumblr.com",
}

// Cobalt resolves links through a cobalt API instance and downloads the
// returned media URL directly.
type Cobalt struct {
	APIURL string
	APIKey string
	client *http.Client
	direct *Direct
}

func NewCobalt(apiURL, apiKey string, direct *Direct) *Cobalt {
	return &Cobalt{
		APIURL: apiURL,
		APIKey: apiKey,
		client: utils.GetAPIClient(),
		direct: direct,
	}
}

func (c *Cobalt) Name() string {
	return "cobalt"
}

func (c *Cobalt) Supports(url string) bool {
	if c.APIURL == "" {
		return false
	}
	lower := strings.ToLower(url)
	for _, d := range cobaltDomains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

type cobaltRequest struct {
	URL          string `json:"url"`
	DownloadMode string `json:"downloadMode"`
	VideoQuality string `json:"videoQuality"`
	AudioFormat  string `json:"audioFormat,omitempty"`
}

type cobaltResponse struct {
	Status   string       `json:"status"`
	URL      string       `json:"url"`
	Filename string       `json:"filename"`
	Picker   []cobaltItem `json:"picker"`
	Error    cobaltError  `json:"error"`
}

type cobaltItem struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type cobaltError struct {
	Code    string `json:"code"`
	Context any    `json:"context"`
}

func (c *Cobalt) Fetch(ctx context.Context, url string, kind task.Kind, progress ProgressFunc) (*Media, error) {
	resp, err := c.request(ctx, url, kind)
	if err != nil {
		return nil, err
	}

	target, name, err := resp.media(kind)
	if err != nil {
		return nil, err
	}

	m, err := c.direct.download(ctx, target, name, nil, kind, progress)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Cobalt) request(ctx context.Context, url string, kind task.Kind) (*cobaltResponse, error) {
	body := cobaltRequest{URL: url, DownloadMode: "auto", VideoQuality: "1080"}
	if kind == task.KindAudio {
		body.DownloadMode = "audio"
		body.AudioFormat = "mp3"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Api-Key "+c.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var out cobaltResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, statusError("cobalt", resp.StatusCode, string(data))
		}
		return nil, fmt.Errorf("decode response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK && out.Status != "error" {
		return nil, statusError("cobalt", resp.StatusCode, string(data))
	}
	return &out, nil
}

// media picks the URL to download. Picker responses yield their first item
// of the wanted type.
func (r *cobaltResponse) media(kind task.Kind) (string, string, error) {
	switch r.Status {
	case "tunnel", "redirect":
		if r.URL == "" {
			return "", "", errs.New(errs.CodeFetchPermanent, "empty URL in cobalt response")
		}
		return r.URL, r.Filename, nil

	case "picker":
		want := "video"
		if kind == task.KindAudio {
			want = "audio"
		}
		for _, item := range r.Picker {
			if item.URL != "" && item.Type == want {
				return item.URL, r.Filename, nil
			}
		}
		for _, item := range r.Picker {
			if item.URL != "" {
				return item.URL, r.Filename, nil
			}
		}
		return "", "", errs.New(errs.CodeFetchPermanent, "no valid items found in picker")

	case "error":
		msg := "cobalt: " + r.Error.Code
		if strings.Contains(r.Error.Code, "rate_exceeded") || strings.Contains(r.Error.Code, "fetch.fail") {
			return "", "", errs.New(errs.CodeFetchTransient, msg)
		}
		return "", "", errs.New(errs.CodeFetchPermanent, msg)

	default:
		return "", "", errs.Newf(errs.CodeFetchPermanent, "unknown cobalt status: %s", r.Status)
	}
}
