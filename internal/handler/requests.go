package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

// Cancel stops one request by ID, or every active request of the sender.
func (h *Handler) Cancel(ctx context.Context, m *Message) error {
	if len(m.Args) == 0 {
		n := 0
		for _, req := range h.intake.List(m.Sender.ID) {
			if req.Status.Terminal() {
				continue
			}
			if err := h.intake.Cancel(req.ID); err == nil {
				n++
			}
		}
		if n == 0 {
			return h.reply(ctx, m, "You have no active downloads.")
		}
		return h.reply(ctx, m, fmt.Sprintf("🚫 Cancelling %d download(s).", n))
	}

	id := m.Args[0]
	req, ok := h.intake.Get(id)
	if !ok || (req.RequesterID != m.Sender.ID && !h.users.IsAdmin(m.Sender.ID)) {
		return h.reply(ctx, m, fmt.Sprintf("No active download <code>%s</code>.", escape(id)))
	}
	if err := h.intake.Cancel(id); err != nil {
		return h.reply(ctx, m, fmt.Sprintf("No active download <code>%s</code>.", escape(id)))
	}
	return h.reply(ctx, m, fmt.Sprintf("🚫 Cancelling <code>%s</code>.", escape(id)))
}

func (h *Handler) Status(ctx context.Context, m *Message) error {
	var active []*task.Request
	for _, req := range h.intake.List(m.Sender.ID) {
		if !req.Status.Terminal() {
			active = append(active, req)
		}
	}
	if len(active) == 0 {
		return h.reply(ctx, m, fmt.Sprintf("You have no active downloads.\n%d request(s) waiting in total.", h.intake.Pending()))
	}

	var b strings.Builder
	b.WriteString("<b>Your downloads</b>\n")
	for i, req := range active {
		branch := "├"
		if i == len(active)-1 {
			branch = "└"
		}
		fmt.Fprintf(&b, "%s <code>%s</code> %s · %s", branch, req.ID, escape(task.Platform(req.URL)), req.Status)
		if pos, ok := h.intake.Position(req.ID); ok {
			fmt.Fprintf(&b, " #%d", pos)
		}
		if req.Attempt > 0 {
			fmt.Fprintf(&b, " (retry %d)", req.Attempt)
		}
		b.WriteString("\n")
	}
	return h.reply(ctx, m, strings.TrimSuffix(b.String(), "\n"))
}

func (h *Handler) Quota(ctx context.Context, m *Message) error {
	remaining := h.quota.Remaining(ctx, m.Sender.ID)
	if remaining < 0 {
		return h.reply(ctx, m, fmt.Sprintf("📦 <b>Quota</b>\n└ Tier : <code>%s</code> (unlimited)", h.users.Role(ctx, m.Sender.ID)))
	}

	used := h.quota.Usage(m.Sender.ID).BytesUsedToday
	limit := h.quota.Limit()
	pct := 0.0
	if limit > 0 {
		pct = float64(used) / float64(limit) * 100
	}
	return h.reply(ctx, m, fmt.Sprintf(
		"📦 <b>Quota</b>\n"+
			"├ <code>%s</code>\n"+
			"├ Used : <code>%s / %s</code>\n"+
			"├ Left : <code>%s</code>\n"+
			"└ Resets at 00:00 UTC",
		utils.FormatProgressBar(pct),
		utils.FormatFileSize(used), utils.FormatFileSize(limit),
		utils.FormatFileSize(remaining),
	))
}
