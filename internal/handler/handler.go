// Package handler answers chat commands and turns links into download requests.
package handler

import (
	"context"
	"html"

	"github.com/gotd/td/tg"

	"github.com/pavelc4/aether-queue/internal/dispatcher"
	"github.com/pavelc4/aether-queue/internal/quota"
	"github.com/pavelc4/aether-queue/internal/stats"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/internal/userstore"
)

type Chat interface {
	Reply(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string) (int, error)
	ReplyMarkup(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string, markup tg.ReplyMarkupClass) error
}

type Intake interface {
	Submit(ctx context.Context, s dispatcher.Submission) (*task.Request, error)
	Cancel(id string) error
	Get(id string) (*task.Request, bool)
	List(userID int64) []*task.Request
	Position(id string) (int, bool)
	Pending() int
}

type Users interface {
	Touch(ctx context.Context, u userstore.User)
	Role(ctx context.Context, userID int64) userstore.Role
	IsAdmin(userID int64) bool
	SetPremium(ctx context.Context, userID int64, premium bool) error
	CountUsers(ctx context.Context) (int, error)
}

type Quota interface {
	Usage(userID int64) quota.UserQuota
	Remaining(ctx context.Context, userID int64) int64
	Limit() int64
}

type Stats interface {
	Snapshot() stats.Snapshot
	Period(period string) *stats.PeriodStats
}

type Host interface {
	Info(ctx context.Context) *stats.SystemInfo
}

type Deps struct {
	Chat    Chat
	Intake  Intake
	Users   Users
	Quota   Quota
	Stats   Stats
	Host    Host
	OwnerID int64
}

type Handler struct {
	chat    Chat
	intake  Intake
	users   Users
	quota   Quota
	stats   Stats
	host    Host
	ownerID int64
}

func New(deps Deps) *Handler {
	return &Handler{
		chat:    deps.Chat,
		intake:  deps.Intake,
		users:   deps.Users,
		quota:   deps.Quota,
		stats:   deps.Stats,
		host:    deps.Host,
		ownerID: deps.OwnerID,
	}
}

// Message is an incoming chat message, already resolved by the router.
type Message struct {
	ID     int
	ChatID int64
	Peer   tg.InputPeerClass
	Sender userstore.User
	Args   []string
	Text   string
}

func (h *Handler) reply(ctx context.Context, m *Message, text string) error {
	_, err := h.chat.Reply(ctx, m.Peer, m.ID, text)
	return err
}

func (h *Handler) isOwner(userID int64) bool {
	return h.ownerID != 0 && userID == h.ownerID
}

func escape(s string) string {
	return html.EscapeString(s)
}
