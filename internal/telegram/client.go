// Package telegram is the MTProto side of the bot: the client, file delivery,
// captions and the status messages that follow a request through the queue.
package telegram

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/pavelc4/aether-queue/config"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

type Client struct {
	client *telegram.Client
	api    *tg.Client
	sender *message.Sender
	ready  chan struct{}
	me     *tg.User
}

func NewClient(cfg *config.Config, handler telegram.UpdateHandler) *Client {
	opts := telegram.Options{
		Logger:         logger.Zap(),
		SessionStorage: &session.FileStorage{Path: filepath.Join(cfg.SessionDir, "session.json")},
		UpdateHandler:  handler,
	}
	client := telegram.NewClient(cfg.AppID, cfg.AppHash, opts)
	api := client.API()

	return &Client{
		client: client,
		api:    api,
		sender: message.NewSender(api),
		ready:  make(chan struct{}),
	}
}

// Run connects, logs in as the bot and blocks until ctx ends.
func (c *Client) Run(ctx context.Context, botToken string) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return errors.Wrap(err, "auth status")
		}
		if !status.Authorized {
			if _, err := c.client.Auth().Bot(ctx, botToken); err != nil {
				return errors.Wrap(err, "bot login")
			}
		}

		me, err := c.client.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "get self")
		}
		c.me = me
		close(c.ready)

		logger.Info("Telegram client connected", "username", me.Username, "id", me.ID)

		<-ctx.Done()
		return nil
	})
}

func (c *Client) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) API() *tg.Client {
	return c.api
}

// Username is empty until the client has logged in.
func (c *Client) Username() string {
	select {
	case <-c.ready:
		return c.me.Username
	default:
		return ""
	}
}

// Reply sends an HTML message, as a reply when replyTo is set, and returns its ID.
func (c *Client) Reply(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string) (int, error) {
	if err := c.waitReady(ctx); err != nil {
		return 0, err
	}
	b := c.sender.To(peer).NoWebpage()
	if replyTo != 0 {
		b = b.Reply(replyTo)
	}
	updates, err := b.StyledText(ctx, html.String(nil, text))
	if err != nil {
		return 0, errors.Wrap(err, "send message")
	}
	return messageID(updates), nil
}

// ReplyMarkup is Reply with an inline keyboard.
func (c *Client) ReplyMarkup(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string, markup tg.ReplyMarkupClass) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	b := c.sender.To(peer).Markup(markup)
	if replyTo != 0 {
		b = b.Reply(replyTo)
	}
	if _, err := b.StyledText(ctx, html.String(nil, text)); err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}

func (c *Client) Edit(ctx context.Context, peer tg.InputPeerClass, id int, text string) error {
	if _, err := c.sender.To(peer).Edit(id).StyledText(ctx, html.String(nil, text)); err != nil {
		return errors.Wrapf(err, "edit message %d", id)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, peer tg.InputPeerClass, id int) error {
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		_, err := c.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      []int{id},
		})
		if err != nil {
			return errors.Wrap(err, "delete channel message")
		}
		return nil
	}
	_, err := c.api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
		ID:     []int{id},
		Revoke: true,
	})
	if err != nil {
		return errors.Wrap(err, "delete message")
	}
	return nil
}

// SendFile uploads f and posts it as a document.
func (c *Client) SendFile(ctx context.Context, peer tg.InputPeerClass, f File) error {
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	start := time.Now()

	up := uploader.NewUploader(c.api).WithPartSize(uploader.MaximumPartSize)
	file, err := up.FromPath(ctx, f.Path)
	if err != nil {
		return errors.Wrap(err, "upload file")
	}

	doc := message.UploadedDocument(file, html.String(nil, f.Caption)).
		MIME(f.MIME).
		Filename(f.Name)

	if f.Thumb != "" {
		thumb, err := up.FromPath(ctx, f.Thumb)
		if err != nil {
			logger.Debug("Thumbnail upload failed", "path", f.Thumb, "error", err)
		} else {
			doc = doc.Thumb(thumb)
		}
	}

	switch {
	case f.Video:
		doc = doc.Attributes(&tg.DocumentAttributeVideo{
			SupportsStreaming: true,
			W:                 f.Width,
			H:                 f.Height,
		})
	case f.Audio:
		doc = doc.Attributes(&tg.DocumentAttributeAudio{Title: f.Title})
	}

	req := c.sender.To(peer)
	if f.Silent {
		_, err = req.Silent().Media(ctx, doc)
	} else {
		_, err = req.Media(ctx, doc)
	}
	if err != nil {
		return errors.Wrap(err, "send media")
	}

	logger.InfoWithDuration("File sent", start, "name", f.Name, "mime", f.MIME)
	return nil
}

func messageID(updates tg.UpdatesClass) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		for _, update := range u.Updates {
			switch m := update.(type) {
			case *tg.UpdateMessageID:
				return m.ID
			case *tg.UpdateNewMessage:
				if msg, ok := m.Message.(*tg.Message); ok {
					return msg.ID
				}
			case *tg.UpdateNewChannelMessage:
				if msg, ok := m.Message.(*tg.Message); ok {
					return msg.ID
				}
			}
		}
	}
	return 0
}
