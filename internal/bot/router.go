package bot

import (
	"context"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/pavelc4/aether-queue/internal/cache"
	"github.com/pavelc4/aether-queue/internal/handler"
	"github.com/pavelc4/aether-queue/internal/middleware"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/internal/userstore"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

const maxMessageAge = 5 * time.Minute

type command func(ctx context.Context, m *handler.Message) error

type Router struct {
	h        *handler.Handler
	peers    *cache.Peers
	username func() string
	now      func() time.Time
	commands map[string]command
}

// NewRouter routes messages to h. username reports the bot's own username so
// commands addressed to other bots in a group are skipped.
func NewRouter(h *handler.Handler, peers *cache.Peers, username func() string) *Router {
	r := &Router{
		h:        h,
		peers:    peers,
		username: username,
		now:      time.Now,
	}
	r.commands = map[string]command{
		"start":   h.Start,
		"help":    h.Help,
		"cancel":  h.Cancel,
		"status":  h.Status,
		"quota":   h.Quota,
		"stats":   h.Stats,
		"premium": h.Premium,
		"video":   r.download(task.KindVideo),
		"dl":      r.download(task.KindAuto),
		"audio":   r.download(task.KindAudio),
		"mp":      r.download(task.KindAudio),
	}
	return r
}

func (r *Router) download(kind task.Kind) command {
	return func(ctx context.Context, m *handler.Message) error {
		return r.h.Download(ctx, m, strings.Join(m.Args, " "), kind)
	}
}

// Register attaches the router to the client's update dispatcher.
func (r *Router) Register(d tg.UpdateDispatcher) {
	d.OnNewMessage(r.OnMessage)
	d.OnNewChannelMessage(r.OnChannelMessage)
}

func (r *Router) OnMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
	msg, ok := update.Message.(*tg.Message)
	if !ok {
		return nil
	}
	return r.HandleMessage(ctx, e, msg)
}

func (r *Router) OnChannelMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
	msg, ok := update.Message.(*tg.Message)
	if !ok {
		return nil
	}
	return r.HandleMessage(ctx, e, msg)
}

// HandleMessage never returns handler errors to gotd; they are logged instead.
func (r *Router) HandleMessage(ctx context.Context, e tg.Entities, msg *tg.Message) error {
	if msg.Out {
		return nil
	}
	if r.now().Sub(time.Unix(int64(msg.Date), 0)) > maxMessageAge {
		logger.Debug("Ignoring old message", "id", msg.ID)
		return nil
	}

	name, args, isCommand := parseCommand(msg.Message, r.username())
	var run command
	switch {
	case isCommand && name == "":
		return nil
	case isCommand:
		run = r.commands[name]
		if run == nil {
			run = r.h.Unknown
		}
	case task.ExtractURL(msg.Message) != "":
		name = "link"
		run = func(ctx context.Context, m *handler.Message) error {
			return r.h.Download(ctx, m, m.Text, task.KindAuto)
		}
	default:
		return nil
	}

	chatID, peer, err := r.peers.Learn(e, msg.PeerID)
	if err != nil {
		logger.Warn("Cannot resolve chat", "id", msg.ID, "error", err)
		return nil
	}
	m := &handler.Message{
		ID:     msg.ID,
		ChatID: chatID,
		Peer:   peer,
		Sender: senderOf(e, msg),
		Args:   args,
		Text:   msg.Message,
	}

	h := middleware.Chain(
		func(ctx context.Context) error { return run(ctx, m) },
		middleware.Logger("/"+name),
		middleware.Recover,
	)
	if err := h(ctx); err != nil {
		logger.Error("Command failed", "command", name, "user_id", m.Sender.ID, "error", err)
	}
	return nil
}

// parseCommand splits "/cmd@bot arg1 arg2". A command addressed to another
// bot yields an empty name.
func parseCommand(text, self string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}

	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		target := name[i+1:]
		name = name[:i]
		if self != "" && !strings.EqualFold(target, self) {
			return "", nil, true
		}
	}
	return strings.ToLower(name), fields[1:], true
}

func senderOf(e tg.Entities, msg *tg.Message) userstore.User {
	var id int64
	if from, ok := msg.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			id = u.UserID
		}
	} else if u, ok := msg.PeerID.(*tg.PeerUser); ok {
		id = u.UserID
	}

	user := userstore.User{ID: id}
	if u, ok := e.Users[id]; ok {
		user.Username = u.Username
		user.FirstName = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return user
}
