// Package bot connects the Telegram client to the command router.
package bot

import (
	"context"

	"github.com/gotd/td/tg"

	"github.com/pavelc4/aether-queue/config"
	"github.com/pavelc4/aether-queue/internal/telegram"
)

type Bot struct {
	Client     *telegram.Client
	dispatcher tg.UpdateDispatcher
	token      string
}

// New creates the client. Call Route before Run so updates have somewhere to go.
func New(cfg *config.Config) *Bot {
	d := tg.NewUpdateDispatcher()
	return &Bot{
		Client:     telegram.NewClient(cfg, d),
		dispatcher: d,
		token:      cfg.BotToken,
	}
}

func (b *Bot) Route(r *Router) {
	r.Register(b.dispatcher)
}

// Run connects and serves updates until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	err := b.Client.Run(ctx, b.token)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
