package handler

import (
	"context"

	"github.com/gotd/td/tg"
)

const helpText = `<b>Aether Downloader Bot</b>

Send a link and the file comes back here. Requests wait in a fair queue, so one busy user never blocks the rest.

<b>Commands</b>
• /video [URL] - download as video
• /audio [URL] - download audio only (mp3)
• /status - your queued and running downloads
• /cancel [ID] - cancel one download, or all of yours
• /quota - how much you can still download today
• /help - this message

<b>Notes</b>
• Files over the upload limit are split into parts
• Failed downloads are retried a few times before giving up
• Files are deleted from the server once delivered`

func (h *Handler) Start(ctx context.Context, m *Message) error {
	h.users.Touch(ctx, m.Sender)
	return h.reply(ctx, m, "👋 <b>Welcome to Aether!</b>\n\nSend me a link from YouTube, TikTok, Instagram, X and more, and I'll download it for you.\nSee /help for commands.")
}

func (h *Handler) Help(ctx context.Context, m *Message) error {
	markup := &tg.ReplyInlineMarkup{
		Rows: []tg.KeyboardButtonRow{
			{
				Buttons: []tg.KeyboardButtonClass{
					&tg.KeyboardButtonURL{
						Text: "Source",
						URL:  "https://github.com/pavelc4/aether-queue",
					},
				},
			},
		},
	}
	return h.chat.ReplyMarkup(ctx, m.Peer, m.ID, helpText, markup)
}

func (h *Handler) Unknown(ctx context.Context, m *Message) error {
	return h.reply(ctx, m, "Unknown command. See /help.")
}
