package bot

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelc4/aether-queue/internal/cache"
	"github.com/pavelc4/aether-queue/internal/dispatcher"
	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/handler"
	"github.com/pavelc4/aether-queue/internal/quota"
	"github.com/pavelc4/aether-queue/internal/stats"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/internal/userstore"
)

type chat struct{ replies []string }

func (c *chat) Reply(_ context.Context, _ tg.InputPeerClass, _ int, text string) (int, error) {
	c.replies = append(c.replies, text)
	return 1, nil
}

func (c *chat) ReplyMarkup(_ context.Context, _ tg.InputPeerClass, _ int, text string, _ tg.ReplyMarkupClass) error {
	c.replies = append(c.replies, text)
	return nil
}

type intake struct{ subs []dispatcher.Submission }

func (i *intake) Submit(_ context.Context, s dispatcher.Submission) (*task.Request, error) {
	i.subs = append(i.subs, s)
	return &task.Request{ID: "r", URL: s.URL, Kind: s.Kind}, nil
}
func (i *intake) Cancel(string) error              { return errs.ErrNotFound }
func (i *intake) Get(string) (*task.Request, bool) { return nil, false }
func (i *intake) List(int64) []*task.Request       { return nil }
func (i *intake) Position(string) (int, bool)      { return 0, false }
func (i *intake) Pending() int                     { return 0 }

type users struct{ touched []userstore.User }

func (u *users) Touch(_ context.Context, user userstore.User)  { u.touched = append(u.touched, user) }
func (u *users) Role(context.Context, int64) userstore.Role    { return userstore.RoleUser }
func (u *users) IsAdmin(int64) bool                            { return false }
func (u *users) SetPremium(context.Context, int64, bool) error { return nil }
func (u *users) CountUsers(context.Context) (int, error)       { return 0, nil }

type noQuota struct{}

func (noQuota) Usage(int64) quota.UserQuota            { return quota.UserQuota{} }
func (noQuota) Remaining(context.Context, int64) int64 { return -1 }
func (noQuota) Limit() int64                           { return 0 }

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	r      *Router
	chat   *chat
	intake *intake
	users  *users
	peers  *cache.Peers
}

func newHarness() *harness {
	hs := &harness{chat: &chat{}, intake: &intake{}, users: &users{}, peers: cache.NewPeers()}
	h := handler.New(handler.Deps{
		Chat:   hs.chat,
		Intake: hs.intake,
		Users:  hs.users,
		Quota:  noQuota{},
		Stats:  stats.New(""),
	})
	hs.r = NewRouter(h, hs.peers, func() string { return "aether_bot" })
	hs.r.now = func() time.Time { return now }
	return hs
}

var ents = tg.Entities{
	Users: map[int64]*tg.User{42: {ID: 42, AccessHash: 7, Username: "alice", FirstName: "Alice", LastName: "B"}},
	Chats: map[int64]*tg.Chat{300: {ID: 300}},
}

func private(text string) *tg.Message {
	return &tg.Message{ID: 10, PeerID: &tg.PeerUser{UserID: 42}, Message: text, Date: int(now.Unix())}
}

func group(text string) *tg.Message {
	m := &tg.Message{ID: 11, PeerID: &tg.PeerChat{ChatID: 300}, Message: text, Date: int(now.Unix())}
	m.SetFromID(&tg.PeerUser{UserID: 42})
	return m
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text    string
		name    string
		args    []string
		command bool
	}{
		{"/start", "start", []string{}, true},
		{"/Video https://x.com/a", "video", []string{"https://x.com/a"}, true},
		{"/help@aether_bot", "help", []string{}, true},
		{"/help@Aether_Bot", "help", []string{}, true},
		{"/help@other_bot", "", nil, true},
		{"hello /start", "", nil, false},
		{"https://x.com/a", "", nil, false},
	}
	for _, tc := range cases {
		name, args, ok := parseCommand(tc.text, "aether_bot")
		assert.Equal(t, tc.command, ok, tc.text)
		assert.Equal(t, tc.name, name, tc.text)
		assert.Equal(t, tc.args, args, tc.text)
	}
}

func TestSenderOf(t *testing.T) {
	u := senderOf(ents, private("x"))
	assert.Equal(t, userstore.User{ID: 42, Username: "alice", FirstName: "Alice B"}, u)

	u = senderOf(ents, group("x"))
	assert.Equal(t, int64(42), u.ID)
}

func TestRoutesVideoCommand(t *testing.T) {
	hs := newHarness()
	require.NoError(t, hs.r.HandleMessage(context.Background(), ents, private("/video https://youtu.be/abc")))

	require.Len(t, hs.intake.subs, 1)
	s := hs.intake.subs[0]
	assert.Equal(t, task.KindVideo, s.Kind)
	assert.Equal(t, int64(42), s.RequesterID)
	assert.Equal(t, int64(42), s.RecipientID)
	assert.Equal(t, 10, s.ReplyTo)

	peer, ok := hs.peers.Get(42)
	require.True(t, ok)
	assert.Equal(t, &tg.InputPeerUser{UserID: 42, AccessHash: 7}, peer)
}

func TestRoutesPlainLinkInGroup(t *testing.T) {
	hs := newHarness()
	require.NoError(t, hs.r.HandleMessage(context.Background(), ents, group("check this https://www.tiktok.com/@a/video/1")))

	require.Len(t, hs.intake.subs, 1)
	s := hs.intake.subs[0]
	assert.Equal(t, task.KindAuto, s.Kind)
	assert.Equal(t, "https://www.tiktok.com/@a/video/1", s.URL)
	assert.Equal(t, int64(-300), s.RecipientID)
}

func TestRoutesAudioAlias(t *testing.T) {
	hs := newHarness()
	require.NoError(t, hs.r.HandleMessage(context.Background(), ents, private("/mp https://youtu.be/abc")))
	require.Len(t, hs.intake.subs, 1)
	assert.Equal(t, task.KindAudio, hs.intake.subs[0].Kind)
}

func TestIgnoredMessages(t *testing.T) {
	hs := newHarness()
	ctx := context.Background()

	out := private("/start")
	out.Out = true
	require.NoError(t, hs.r.HandleMessage(ctx, ents, out))

	old := private("/start")
	old.Date = int(now.Add(-10 * time.Minute).Unix())
	require.NoError(t, hs.r.HandleMessage(ctx, ents, old))

	require.NoError(t, hs.r.HandleMessage(ctx, ents, group("/start@other_bot")))
	require.NoError(t, hs.r.HandleMessage(ctx, ents, private("just chatting")))

	assert.Empty(t, hs.chat.replies)
	assert.Empty(t, hs.users.touched)
}

func TestUnknownCommand(t *testing.T) {
	hs := newHarness()
	require.NoError(t, hs.r.HandleMessage(context.Background(), ents, private("/frobnicate")))
	require.Len(t, hs.chat.replies, 1)
	assert.Contains(t, hs.chat.replies[0], "Unknown command")
}

func TestUnresolvablePeerIsSkipped(t *testing.T) {
	hs := newHarness()
	msg := &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 999}, Message: "/start", Date: int(now.Unix())}
	require.NoError(t, hs.r.HandleMessage(context.Background(), ents, msg))
	assert.Empty(t, hs.chat.replies)
}
