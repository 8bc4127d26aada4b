package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pavelc4/aether-queue/internal/provider"
	"github.com/pavelc4/aether-queue/internal/task"
)

func TestCaption(t *testing.T) {
	req := &task.Request{URL: "https://www.youtube.com/watch?v=abc&t=1"}
	m := &provider.Media{Path: "/tmp/x/clip.mp4", Title: "Tom &amp; Jerry <live>", Size: 3 * 1024 * 1024}

	c := Caption(req, m, 2, 3)
	assert.Contains(t, c, "<b>Tom &amp; Jerry &lt;live&gt;</b>")
	assert.Contains(t, c, `href="https://www.youtube.com/watch?v=abc&amp;t=1"`)
	assert.Contains(t, c, ">youtube.com</a>")
	assert.Contains(t, c, "3.0 MiB")
	assert.Contains(t, c, "2/3")

	single := Caption(req, &provider.Media{Path: "/tmp/x/clip.mp4"}, 1, 1)
	assert.Contains(t, single, "<b>clip</b>")
	assert.NotContains(t, single, "Part")
	assert.NotContains(t, single, "Size")
}

func TestCaptionTruncatesTitle(t *testing.T) {
	m := &provider.Media{Title: strings.Repeat("é", 150)}
	c := Caption(&task.Request{URL: "https://x.com/a"}, m, 1, 1)
	assert.Contains(t, c, strings.Repeat("é", maxTitleLen-3)+"...")
	assert.NotContains(t, c, strings.Repeat("é", maxTitleLen-2))
}
