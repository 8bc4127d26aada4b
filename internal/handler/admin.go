package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelc4/aether-queue/internal/stats"
	"github.com/pavelc4/aether-queue/pkg/logger"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

// Stats shows download counters and host metrics to the owner.
func (h *Handler) Stats(ctx context.Context, m *Message) error {
	if !h.isOwner(m.Sender.ID) {
		return nil
	}

	snap := h.stats.Snapshot()
	users := "n/a"
	if n, err := h.users.CountUsers(ctx); err == nil {
		users = strconv.Itoa(n)
	}

	var b strings.Builder
	fmt.Fprintf(&b,
		"<b>Downloads</b>\n"+
			"├ Total : <code>%d</code> (%s)\n"+
			"├ Success : <code>%.1f%%</code>\n"+
			"├ Video / Audio : <code>%d / %d</code>\n"+
			"├ Users : <code>%d</code> seen, <code>%s</code> stored\n"+
			"├ Queue : <code>%d</code> waiting\n"+
			"├ Today : <code>%s</code>\n"+
			"├ Week : <code>%s</code>\n"+
			"└ Month : <code>%s</code>\n",
		snap.TotalDownloads, utils.FormatFileSize(snap.TotalBytes),
		snap.SuccessRate(),
		snap.VideoDownloads, snap.AudioDownloads,
		snap.UniqueUsers, users,
		h.intake.Pending(),
		formatPeriod(h.stats.Period("today")),
		formatPeriod(h.stats.Period("week")),
		formatPeriod(h.stats.Period("month")),
	)

	if len(snap.TopPlatforms) > 0 {
		b.WriteString("\n<b>Platforms</b>\n")
		top := snap.TopPlatforms
		if len(top) > 5 {
			top = top[:5]
		}
		for i, p := range top {
			branch := "├"
			if i == len(top)-1 {
				branch = "└"
			}
			fmt.Fprintf(&b, "%s %s : <code>%d</code>\n", branch, escape(p.Platform), p.Downloads)
		}
	}

	if h.host != nil {
		b.WriteString("\n")
		b.WriteString(formatSystem(h.host.Info(ctx)))
	}
	return h.reply(ctx, m, strings.TrimSuffix(b.String(), "\n"))
}

func formatPeriod(p *stats.PeriodStats) string {
	if p == nil {
		return "0 downloads"
	}
	return fmt.Sprintf("%d downloads (%s), %d users", p.Downloads, utils.FormatFileSize(p.Bytes), len(p.Users))
}

func formatSystem(info *stats.SystemInfo) string {
	return fmt.Sprintf(
		"<b>System</b>\n"+
			"├ Host : <code>%s</code> (%s)\n"+
			"├ Uptime : <code>%s</code>\n"+
			"├ CPU : <code>%.1f%%</code> of %d cores\n"+
			"├ Memory : <code>%s / %s (%.1f%%)</code>\n"+
			"├ Disk : <code>%s / %s (%.1f%%)</code>\n"+
			"└ Network : <code>↑%s ↓%s</code>\n\n"+
			"<b>Bot Process</b>\n"+
			"├ Uptime : <code>%s</code>\n"+
			"├ PID : <code>%d</code>\n"+
			"├ CPU : <code>%.1f%%</code>\n"+
			"├ Mem : <code>%s</code>\n"+
			"├ Routines : <code>%d</code>\n"+
			"├ Heap : <code>%s</code>\n"+
			"└ Go : <code>%s</code>, GC runs <code>%d</code>",
		escape(info.Hostname), escape(info.OS),
		utils.FormatDuration(info.SystemUptime),
		info.CPUUsage, info.CPUCores,
		utils.FormatFileSize(int64(info.MemUsed)), utils.FormatFileSize(int64(info.MemTotal)), info.MemPercent,
		utils.FormatFileSize(int64(info.DiskUsed)), utils.FormatFileSize(int64(info.DiskTotal)), info.DiskPercent,
		utils.FormatFileSize(int64(info.NetSent)), utils.FormatFileSize(int64(info.NetRecv)),
		utils.FormatDuration(info.ProcessUptime),
		info.ProcessPID,
		info.ProcessCPU,
		utils.FormatFileSize(int64(info.ProcessMem)),
		info.Goroutines,
		utils.FormatFileSize(int64(info.HeapAlloc)),
		info.GoVersion, info.GCRuns,
	)
}

// Premium grants or revokes the premium tier: /premium <user id> [on|off].
func (h *Handler) Premium(ctx context.Context, m *Message) error {
	if !h.users.IsAdmin(m.Sender.ID) {
		return nil
	}
	if len(m.Args) == 0 {
		return h.reply(ctx, m, "Usage: <code>/premium USER_ID [on|off]</code>")
	}

	id, err := strconv.ParseInt(m.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return h.reply(ctx, m, fmt.Sprintf("Invalid user ID <code>%s</code>.", escape(m.Args[0])))
	}
	on := len(m.Args) < 2 || m.Args[1] != "off"

	if err := h.users.SetPremium(ctx, id, on); err != nil {
		logger.Error("Failed to set premium", "user_id", id, "error", err)
		return h.reply(ctx, m, "❌ "+escape(err.Error()))
	}
	logger.Info("Premium updated", "user_id", id, "premium", on, "by", m.Sender.ID)

	state := "granted to"
	if !on {
		state = "revoked from"
	}
	return h.reply(ctx, m, fmt.Sprintf("✅ Premium %s <code>%d</code>.", state, id))
}
