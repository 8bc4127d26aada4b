package telegram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelc4/aether-queue/internal/cache"
	"github.com/pavelc4/aether-queue/internal/errs"
)

var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2',
	0x00, 0x00, 0x00, 0x00, 'm', 'p', '4', '2', 'i', 's', 'o', 'm',
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []File
	thumb []bool
	errs  []error
}

func (s *fakeSender) SendFile(_ context.Context, _ tg.InputPeerClass, f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, f)
	_, err := os.Stat(f.Thumb)
	s.thumb = append(s.thumb, f.Thumb != "" && err == nil)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

type fakeThumbs struct{ err error }

func (f fakeThumbs) Thumbnail(_ context.Context, _, out string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte("jpg"), 0o644)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newDelivery(sender *fakeSender, thumbs Thumbnailer) (*Delivery, *[]time.Duration) {
	peers := cache.NewPeers()
	peers.Set(42, &tg.InputPeerUser{UserID: 42})
	d := NewDelivery(sender, peers, thumbs, 0)
	var slept []time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		slept = append(slept, wait)
		return nil
	}
	return d, &slept
}

func TestDeliverySendsVideoWithThumbnail(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newDelivery(sender, fakeThumbs{})
	path := writeFile(t, "clip.mp4", mp4Header)

	require.NoError(t, d.Send(context.Background(), 42, path, "<b>clip</b>", true))

	require.Len(t, sender.sent, 1)
	f := sender.sent[0]
	assert.Equal(t, "clip.mp4", f.Name)
	assert.Equal(t, "video/mp4", f.MIME)
	assert.Equal(t, "<b>clip</b>", f.Caption)
	assert.True(t, f.Video)
	assert.False(t, f.Silent)
	assert.True(t, sender.thumb[0])

	_, err := os.Stat(f.Thumb)
	assert.True(t, os.IsNotExist(err), "thumbnail is removed after sending")
}

func TestDeliveryWithoutThumbnail(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newDelivery(sender, fakeThumbs{err: errors.New("no ffmpeg")})
	path := writeFile(t, "clip.mp4", mp4Header)

	require.NoError(t, d.Send(context.Background(), 42, path, "", false))
	assert.Empty(t, sender.sent[0].Thumb)
	assert.True(t, sender.sent[0].Silent)
}

func TestDeliveryPlainDocument(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newDelivery(sender, fakeThumbs{})
	path := writeFile(t, "notes.txt", []byte("hello world\n"))

	require.NoError(t, d.Send(context.Background(), 42, path, "", true))
	f := sender.sent[0]
	assert.Equal(t, "text/plain", f.MIME)
	assert.False(t, f.Video)
	assert.False(t, f.Audio)
	assert.Empty(t, f.Thumb)
}

func TestDeliveryUnknownRecipient(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newDelivery(sender, nil)
	path := writeFile(t, "clip.mp4", mp4Header)

	err := d.Send(context.Background(), 7, path, "", true)
	assert.ErrorIs(t, err, errs.ErrDeliveryPermanent)
	assert.Empty(t, sender.sent)
}

func TestDeliveryMissingFile(t *testing.T) {
	d, _ := newDelivery(&fakeSender{}, nil)
	err := d.Send(context.Background(), 42, filepath.Join(t.TempDir(), "gone.mp4"), "", true)
	assert.ErrorIs(t, err, errs.ErrDeliveryPermanent)
}

func TestDeliveryWaitsOutShortFloodWait(t *testing.T) {
	sender := &fakeSender{errs: []error{tgerr.New(420, "FLOOD_WAIT_3")}}
	d, slept := newDelivery(sender, nil)
	path := writeFile(t, "clip.mp4", mp4Header)

	require.NoError(t, d.Send(context.Background(), 42, path, "", true))
	assert.Len(t, sender.sent, 2)
	assert.Equal(t, []time.Duration{3 * time.Second}, *slept)
}

func TestDeliveryLongFloodWaitIsTransient(t *testing.T) {
	sender := &fakeSender{errs: []error{tgerr.New(420, "FLOOD_WAIT_120")}}
	d, slept := newDelivery(sender, nil)
	path := writeFile(t, "clip.mp4", mp4Header)

	err := d.Send(context.Background(), 42, path, "", true)
	assert.ErrorIs(t, err, errs.ErrDeliveryTransient)
	assert.Equal(t, 120*time.Second, errs.RetryAfterOf(err))
	assert.Len(t, sender.sent, 1)
	assert.Empty(t, *slept)
}

func TestDeliveryRepeatedFloodWaitGivesUp(t *testing.T) {
	flood := tgerr.New(420, "FLOOD_WAIT_1")
	sender := &fakeSender{errs: []error{flood, flood, flood, flood, flood}}
	d, slept := newDelivery(sender, nil)
	path := writeFile(t, "clip.mp4", mp4Header)

	err := d.Send(context.Background(), 42, path, "", true)
	assert.ErrorIs(t, err, errs.ErrDeliveryTransient)
	assert.Len(t, sender.sent, maxFloodRetries+1)
	assert.Len(t, *slept, maxFloodRetries)
}

func TestClassifySendError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want *errs.Error
	}{
		{"blocked", tgerr.New(403, "USER_IS_BLOCKED"), errs.ErrDeliveryPermanent},
		{"bad request", tgerr.New(400, "SOMETHING_ODD"), errs.ErrDeliveryPermanent},
		{"server", tgerr.New(500, "INTERNAL"), errs.ErrDeliveryTransient},
		{"flood", tgerr.New(420, "FLOOD_WAIT_10"), errs.ErrDeliveryTransient},
		{"network", errors.New("connection reset"), errs.ErrDeliveryTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classifySendError(context.Background(), tc.err), tc.want)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, classifySendError(ctx, errors.New("x")), context.Canceled)
}
