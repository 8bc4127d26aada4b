package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/logger"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

const progressEditPeriod = 2 * time.Second

// Messenger is the chat side of the tracker.
type Messenger interface {
	Reply(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string) (int, error)
	Edit(ctx context.Context, peer tg.InputPeerClass, id int, text string) error
	Delete(ctx context.Context, peer tg.InputPeerClass, id int) error
}

type statusMessage struct {
	peer tg.InputPeerClass
	id   int
	text string
	last time.Time
}

// Tracker keeps one status message per chat request and rewrites it as the
// request moves through the queue. Requests without a reply target (HTTP
// intake) are ignored. Run owns all state, so it needs no lock.
type Tracker struct {
	msgr      Messenger
	peers     peerLookup
	minPeriod time.Duration
	now       func() time.Time
	msgs      map[string]*statusMessage
}

func NewTracker(msgr Messenger, peers peerLookup) *Tracker {
	return &Tracker{
		msgr:      msgr,
		peers:     peers,
		minPeriod: progressEditPeriod,
		now:       time.Now,
		msgs:      make(map[string]*statusMessage),
	}
}

// Run consumes events until the channel closes or ctx ends.
func (t *Tracker) Run(ctx context.Context, events <-chan task.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handle(ctx, ev)
		}
	}
}

func (t *Tracker) handle(ctx context.Context, ev task.Event) {
	if ev.ReplyTo == 0 {
		return
	}

	m := t.msgs[ev.RequestID]
	if m == nil {
		if ev.Status.Terminal() && ev.Status != task.StatusFailed {
			return
		}
		peer, ok := t.peers.Get(ev.RecipientID)
		if !ok {
			return
		}
		text := renderStatus(ev)
		id, err := t.msgr.Reply(ctx, peer, ev.ReplyTo, text)
		if err != nil {
			logger.Warn("Failed to send status message", "request_id", ev.RequestID, "error", err)
			return
		}
		if ev.Status.Terminal() {
			return
		}
		t.msgs[ev.RequestID] = &statusMessage{peer: peer, id: id, text: text, last: t.now()}
		return
	}

	if ev.Status == task.StatusDone {
		delete(t.msgs, ev.RequestID)
		if err := t.msgr.Delete(ctx, m.peer, m.id); err != nil {
			logger.Debug("Failed to delete status message", "request_id", ev.RequestID, "error", err)
		}
		return
	}
	if ev.Status.Terminal() {
		delete(t.msgs, ev.RequestID)
	}

	now := t.now()
	if ev.Type == task.EventProgress && now.Sub(m.last) < t.minPeriod && ev.Percent < 100 {
		return
	}

	text := renderStatus(ev)
	if text == m.text {
		return
	}
	if err := t.msgr.Edit(ctx, m.peer, m.id, text); err != nil {
		logger.Debug("Failed to edit status message", "request_id", ev.RequestID, "error", err)
		return
	}
	m.text = text
	m.last = now
}

// Pending is the number of status messages being tracked.
func (t *Tracker) Pending() int {
	return len(t.msgs)
}

func renderStatus(ev task.Event) string {
	var b strings.Builder
	switch ev.Status {
	case task.StatusQueued:
		b.WriteString("⏳ <b>Queued</b>")
		if ev.Attempt > 0 {
			fmt.Fprintf(&b, "\n├ Retry : <code>%d</code>", ev.Attempt)
			fmt.Fprintf(&b, "\n├ Reason : <code>%s</code>", html.EscapeString(ev.Reason))
		}
		fmt.Fprintf(&b, "\n└ ID : <code>%s</code>", ev.RequestID)
	case task.StatusRunning:
		b.WriteString("⬇️ <b>Downloading</b>")
		if ev.Type == task.EventProgress {
			fmt.Fprintf(&b, "\n├ <code>%s</code>", utils.FormatProgressBar(ev.Percent))
			if ev.Total > 0 {
				fmt.Fprintf(&b, "\n└ Size : <code>%s / %s</code>",
					utils.FormatFileSize(ev.Downloaded), utils.FormatFileSize(ev.Total))
			} else {
				fmt.Fprintf(&b, "\n└ Fetched : <code>%s</code>", utils.FormatFileSize(ev.Downloaded))
			}
		}
	case task.StatusSplitting:
		b.WriteString("✂️ <b>Splitting</b> into parts under the upload limit")
	case task.StatusDelivering:
		b.WriteString("📤 <b>Uploading</b>")
		if ev.Parts > 1 {
			fmt.Fprintf(&b, "\n└ Part : <code>%d/%d</code>", min(ev.Part+1, ev.Parts), ev.Parts)
		}
	case task.StatusFailed:
		fmt.Fprintf(&b, "❌ <b>Failed</b>\n└ %s", html.EscapeString(ev.Reason))
	case task.StatusCancelled:
		b.WriteString("🚫 <b>Cancelled</b>")
		if ev.Reason != "" {
			fmt.Fprintf(&b, "\n└ %s", html.EscapeString(ev.Reason))
		}
	case task.StatusDone:
		b.WriteString("✅ <b>Done</b>")
	}
	return b.String()
}
