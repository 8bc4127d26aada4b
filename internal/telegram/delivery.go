package telegram

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"golang.org/x/time/rate"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/pkg/logger"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

const (
	maxInlineFloodWait = 30 * time.Second
	maxFloodRetries    = 3
)

// File is one upload: a document with its caption and display hints.
type File struct {
	Path    string
	Name    string
	MIME    string
	Caption string
	Title   string
	Thumb   string
	Video   bool
	Audio   bool
	Width   int
	Height  int
	Silent  bool
}

type fileSender interface {
	SendFile(ctx context.Context, peer tg.InputPeerClass, f File) error
}

type peerLookup interface {
	Get(id int64) (tg.InputPeerClass, bool)
}

// Thumbnailer writes a still frame of a video to out.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, path, out string) error
}

// Delivery sends finished files to chats, paced so bursts of parts do not
// trip Telegram's flood control.
type Delivery struct {
	sender  fileSender
	peers   peerLookup
	thumbs  Thumbnailer
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDelivery sends through sender. thumbs may be nil.
func NewDelivery(sender fileSender, peers peerLookup, thumbs Thumbnailer, interval time.Duration) *Delivery {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Delivery{
		sender:  sender,
		peers:   peers,
		thumbs:  thumbs,
		limiter: rate.NewLimiter(limit, 1),
		sleep:   sleepCtx,
	}
}

// Send uploads path to the chat recipientID. Parts before the final one are
// sent without a notification.
func (d *Delivery) Send(ctx context.Context, recipientID int64, path, caption string, final bool) error {
	peer, ok := d.peers.Get(recipientID)
	if !ok {
		return errs.Newf(errs.CodeDeliveryPermanent, "chat %d is unknown to the bot", recipientID)
	}

	f, err := d.prepare(ctx, path, caption)
	if err != nil {
		return err
	}
	f.Silent = !final
	if f.Thumb != "" {
		defer utils.RemoveQuietly(f.Thumb)
	}

	for attempt := 0; ; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		err := d.sender.SendFile(ctx, peer, f)
		if err == nil {
			return nil
		}

		wait, flood := tgerr.AsFloodWait(err)
		if flood && wait <= maxInlineFloodWait && attempt < maxFloodRetries {
			logger.Warn("Flood wait during upload", "recipient", recipientID, "wait", wait)
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		return classifySendError(ctx, err)
	}
}

func (d *Delivery) prepare(ctx context.Context, path, caption string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, errs.Wrap(errs.CodeDeliveryPermanent, "file to deliver is missing", err)
	}
	if info.Size() == 0 {
		return File{}, errs.New(errs.CodeDeliveryPermanent, "file to deliver is empty")
	}

	f := File{
		Path:    path,
		Name:    filepath.Base(path),
		MIME:    "application/octet-stream",
		Caption: caption,
		Title:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		f.MIME = mt.String()
		if i := strings.IndexByte(f.MIME, ';'); i > 0 {
			f.MIME = f.MIME[:i]
		}
	}
	f.Video = strings.HasPrefix(f.MIME, "video/")
	f.Audio = strings.HasPrefix(f.MIME, "audio/")

	if f.Video && d.thumbs != nil {
		out := strings.TrimSuffix(path, filepath.Ext(path)) + ".thumb.jpg"
		if err := d.thumbs.Thumbnail(ctx, path, out); err != nil {
			logger.Debug("Thumbnail failed", "path", path, "error", err)
		} else {
			f.Thumb = out
		}
	}
	return f, nil
}

// permanentRPC are upload errors that a retry cannot fix.
var permanentRPC = []string{
	"USER_IS_BLOCKED",
	"USER_IS_BOT",
	"PEER_ID_INVALID",
	"CHAT_WRITE_FORBIDDEN",
	"CHAT_SEND_MEDIA_FORBIDDEN",
	"CHANNEL_PRIVATE",
	"INPUT_USER_DEACTIVATED",
	"USER_DEACTIVATED",
	"FILE_PARTS_INVALID",
	"FILE_PART_SIZE_INVALID",
	"MEDIA_EMPTY",
	"MEDIA_CAPTION_TOO_LONG",
	"DOCUMENT_INVALID",
}

func classifySendError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return errs.WithRetryAfter(errs.CodeDeliveryTransient, "telegram asked to slow down", wait, err)
	}
	if tgerr.Is(err, permanentRPC...) {
		return errs.Wrap(errs.CodeDeliveryPermanent, "telegram rejected the file", err)
	}
	if rpc, ok := tgerr.As(err); ok && rpc.Code >= 400 && rpc.Code < 500 {
		return errs.Wrap(errs.CodeDeliveryPermanent, "telegram rejected the file", err)
	}
	return errs.Wrap(errs.CodeDeliveryTransient, "upload failed", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
