package telegram

import (
	"fmt"
	"html"
	"path/filepath"
	"strings"

	"github.com/pavelc4/aether-queue/internal/provider"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

const maxTitleLen = 100

// Caption renders the HTML caption of a delivered file.
func Caption(req *task.Request, m *provider.Media, part, parts int) string {
	title := html.UnescapeString(m.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(m.Path), filepath.Ext(m.Path))
	}
	if len([]rune(title)) > maxTitleLen {
		title = string([]rune(title)[:maxTitleLen-3]) + "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "🔗 Source : <a href=\"%s\">%s</a>\n",
		html.EscapeString(req.URL), html.EscapeString(task.Platform(req.URL)))
	if m.Size > 0 {
		fmt.Fprintf(&b, "💾 Size : <code>%s</code>\n", utils.FormatFileSize(m.Size))
	}
	if parts > 1 {
		fmt.Fprintf(&b, "🧩 Part : <code>%d/%d</code>\n", part, parts)
	}
	b.WriteString("<i>Files are deleted from the server once delivered.</i>")
	return b.String()
}
