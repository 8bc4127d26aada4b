package handler

import (
	"context"
	"fmt"

	"github.com/pavelc4/aether-queue/internal/dispatcher"
	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/logger"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

// Download submits the first link in text. Progress is reported by the
// status tracker, so only intake failures are answered here.
func (h *Handler) Download(ctx context.Context, m *Message, text string, kind task.Kind) error {
	url := task.ExtractURL(text)
	if url == "" {
		return h.reply(ctx, m, "Send a link after the command, e.g. <code>/video https://youtu.be/…</code>")
	}

	h.users.Touch(ctx, m.Sender)

	req, err := h.intake.Submit(ctx, dispatcher.Submission{
		RequesterID: m.Sender.ID,
		RecipientID: m.ChatID,
		URL:         url,
		Kind:        kind,
		ReplyTo:     m.ID,
	})
	if err != nil {
		logger.Info("Download rejected", "user_id", m.Sender.ID, "url", url, "error", err)
		return h.reply(ctx, m, intakeText(err))
	}

	logger.Info("Download queued",
		"request_id", req.ID,
		"user_id", m.Sender.ID,
		"platform", task.Platform(req.URL),
		"kind", req.Kind.String(),
		"priority", req.Priority.String(),
	)
	return nil
}

func intakeText(err error) string {
	switch errs.CodeOf(err) {
	case errs.CodeRateLimited:
		return "⏱️ " + escape(errs.Message(err))
	case errs.CodeQueueFull:
		return "📥 " + escape(errs.Message(err)) + "\nUse /status to see what is waiting."
	case errs.CodeInvalidRequest:
		return "⚠️ " + escape(errs.Message(err))
	case errs.CodeQuotaExceeded:
		if after := errs.RetryAfterOf(err); after > 0 {
			return fmt.Sprintf("📦 %s\nTry again in %s.", escape(errs.Message(err)), utils.FormatDuration(after))
		}
		return "📦 " + escape(errs.Message(err))
	default:
		return "❌ " + escape(errs.Message(err))
	}
}
