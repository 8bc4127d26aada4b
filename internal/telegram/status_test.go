package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelc4/aether-queue/internal/cache"
	"github.com/pavelc4/aether-queue/internal/task"
)

type fakeMessenger struct {
	replies  []string
	edits    []string
	deleted  []int
	replyErr error
	nextID   int
}

func (m *fakeMessenger) Reply(_ context.Context, _ tg.InputPeerClass, _ int, text string) (int, error) {
	if m.replyErr != nil {
		return 0, m.replyErr
	}
	m.replies = append(m.replies, text)
	m.nextID++
	return m.nextID, nil
}

func (m *fakeMessenger) Edit(_ context.Context, _ tg.InputPeerClass, _ int, text string) error {
	m.edits = append(m.edits, text)
	return nil
}

func (m *fakeMessenger) Delete(_ context.Context, _ tg.InputPeerClass, id int) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func newTracker() (*Tracker, *fakeMessenger, *time.Time) {
	peers := cache.NewPeers()
	peers.Set(5, &tg.InputPeerUser{UserID: 5})
	msgr := &fakeMessenger{}
	tr := NewTracker(msgr, peers)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, msgr, &now
}

func ev(status task.Status) task.Event {
	return task.Event{Type: task.EventStatus, RequestID: "r1", RecipientID: 5, ReplyTo: 9, Status: status}
}

func progress(pct float64) task.Event {
	e := ev(task.StatusRunning)
	e.Type = task.EventProgress
	e.Percent = pct
	e.Downloaded = int64(pct) * 10
	e.Total = 1000
	return e
}

func TestTrackerLifecycle(t *testing.T) {
	tr, msgr, now := newTracker()
	ctx := context.Background()

	tr.handle(ctx, ev(task.StatusQueued))
	require.Len(t, msgr.replies, 1)
	assert.Contains(t, msgr.replies[0], "Queued")

	tr.handle(ctx, ev(task.StatusRunning))
	*now = now.Add(3 * time.Second)
	tr.handle(ctx, progress(10))
	// throttled: same period
	tr.handle(ctx, progress(20))
	*now = now.Add(3 * time.Second)
	tr.handle(ctx, progress(30))
	tr.handle(ctx, ev(task.StatusDelivering))

	require.Len(t, msgr.edits, 4)
	assert.Contains(t, msgr.edits[0], "Downloading")
	assert.Contains(t, msgr.edits[1], "10.0%")
	assert.Contains(t, msgr.edits[2], "30.0%")
	assert.Contains(t, msgr.edits[3], "Uploading")

	tr.handle(ctx, ev(task.StatusDone))
	assert.Equal(t, []int{1}, msgr.deleted)
	assert.Zero(t, tr.Pending())
}

func TestTrackerFailureKeepsMessage(t *testing.T) {
	tr, msgr, _ := newTracker()
	ctx := context.Background()

	tr.handle(ctx, ev(task.StatusQueued))
	failed := ev(task.StatusFailed)
	failed.Reason = "unsupported <url>"
	tr.handle(ctx, failed)

	require.Len(t, msgr.edits, 1)
	assert.Contains(t, msgr.edits[0], "Failed")
	assert.Contains(t, msgr.edits[0], "unsupported &lt;url&gt;")
	assert.Empty(t, msgr.deleted)
	assert.Zero(t, tr.Pending())
}

func TestTrackerIgnoresAPIRequests(t *testing.T) {
	tr, msgr, _ := newTracker()
	e := ev(task.StatusQueued)
	e.ReplyTo = 0
	tr.handle(context.Background(), e)
	assert.Empty(t, msgr.replies)
}

func TestTrackerUnknownPeer(t *testing.T) {
	tr, msgr, _ := newTracker()
	e := ev(task.StatusQueued)
	e.RecipientID = 99
	tr.handle(context.Background(), e)
	assert.Empty(t, msgr.replies)
	assert.Zero(t, tr.Pending())
}

func TestTrackerReplyFailure(t *testing.T) {
	tr, msgr, _ := newTracker()
	msgr.replyErr = errors.New("forbidden")
	tr.handle(context.Background(), ev(task.StatusQueued))
	assert.Zero(t, tr.Pending())
}

func TestTrackerRunStopsWhenChannelCloses(t *testing.T) {
	tr, msgr, _ := newTracker()
	events := make(chan task.Event, 2)
	events <- ev(task.StatusQueued)
	close(events)

	require.NoError(t, tr.Run(context.Background(), events))
	assert.Len(t, msgr.replies, 1)
}

func TestRenderStatus(t *testing.T) {
	retry := ev(task.StatusQueued)
	retry.Attempt = 1
	retry.Reason = "download timed out"
	assert.Contains(t, renderStatus(retry), "Retry : <code>1</code>")

	del := ev(task.StatusDelivering)
	del.Parts = 3
	del.Part = 1
	assert.Contains(t, renderStatus(del), "2/3")

	assert.Contains(t, renderStatus(ev(task.StatusCancelled)), "Cancelled")
	assert.Contains(t, renderStatus(progress(50)), "500 B / 1000 B")
}
