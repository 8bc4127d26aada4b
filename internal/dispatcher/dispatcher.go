// Package dispatcher admits download requests and drives each one through
// fetch, split and delivery on a bounded set of workers.
package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pavelc4/aether-queue/internal/artifact"
	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/provider"
	"github.com/pavelc4/aether-queue/internal/queue"
	"github.com/pavelc4/aether-queue/internal/quota"
	"github.com/pavelc4/aether-queue/internal/ratelimit"
	"github.com/pavelc4/aether-queue/internal/retry"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

const (
	defaultMaxPartBytes    = 1950 * 1024 * 1024
	defaultArtifactTTL     = 5 * time.Minute
	defaultDrainTimeout    = 30 * time.Second
	defaultEstimateTimeout = 20 * time.Second
	defaultHistoryLimit    = 1000

	reasonCancelled = "cancelled by user"
	reasonShutdown  = "shutting down"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string, kind task.Kind, progress provider.ProgressFunc) (*provider.Media, error)
}

type Estimator interface {
	Estimate(ctx context.Context, url string, kind task.Kind) (int64, error)
}

type Splitter interface {
	Split(ctx context.Context, path string, maxPartBytes int64) ([]string, error)
}

// Delivery sends one file to a recipient. final is set on the last part.
type Delivery interface {
	Send(ctx context.Context, recipientID int64, path, caption string, final bool) error
}

type UserStore interface {
	IsElevated(ctx context.Context, userID int64) (bool, error)
}

type Recorder interface {
	RecordDownload(userID int64, platform, mediaType string, files int, bytes int64, success bool)
}

// CaptionFunc renders the caption for part (1-based) of parts.
type CaptionFunc func(req *task.Request, m *provider.Media, part, parts int) string

type Deps struct {
	Queue     *queue.Queue
	Limiter   *ratelimit.Limiter
	Quota     *quota.Tracker
	Store     *artifact.Store
	Retry     *retry.Policy
	Fetcher   Fetcher
	Estimator Estimator
	Splitter  Splitter
	Delivery  Delivery
	Users     UserStore
	Stats     Recorder
}

type Options struct {
	MaxConcurrency  int
	MaxPartBytes    int64
	ArtifactTTL     time.Duration
	DrainTimeout    time.Duration
	EstimateTimeout time.Duration
	// FetchTimeout bounds one fetch attempt. Zero means no limit.
	FetchTimeout time.Duration
	HistoryLimit int
	Caption      CaptionFunc
}

func (o *Options) setDefaults() {
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	if o.MaxPartBytes <= 0 {
		o.MaxPartBytes = defaultMaxPartBytes
	}
	if o.ArtifactTTL <= 0 {
		o.ArtifactTTL = defaultArtifactTTL
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	if o.EstimateTimeout <= 0 {
		o.EstimateTimeout = defaultEstimateTimeout
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	if o.Caption == nil {
		o.Caption = DefaultCaption
	}
}

// Submission is an intake request from chat or the HTTP API.
type Submission struct {
	RequesterID int64
	// RecipientID defaults to RequesterID.
	RecipientID int64
	URL         string
	Kind        task.Kind
	ReplyTo     int
}

type record struct {
	req       *task.Request
	cancel    context.CancelFunc
	cancelled bool
	percent   int
}

type Dispatcher struct {
	deps   Deps
	opts   Options
	events *broker

	mu      sync.Mutex
	records map[string]*record
	history []string

	closing  atomic.Bool
	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	now      func() time.Time
}

func New(deps Deps, opts Options) *Dispatcher {
	opts.setDefaults()
	return &Dispatcher{
		deps:    deps,
		opts:    opts,
		events:  newBroker(),
		records: make(map[string]*record),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Submit validates and enqueues a request. Every rejection is synchronous and
// leaves no trace of the request.
func (d *Dispatcher) Submit(ctx context.Context, s Submission) (*task.Request, error) {
	if d.closing.Load() {
		return nil, errs.New(errs.CodeQueueFull, "not accepting new downloads, shutting down")
	}

	url := task.NormalizeURL(s.URL)
	if err := task.ValidateURL(url); err != nil {
		return nil, err
	}
	// A full queue must not spend the user's rate-limit window.
	if err := d.deps.Queue.HasRoom(s.RequesterID); err != nil {
		return nil, err
	}
	if !d.deps.Limiter.Allow(s.RequesterID) {
		return nil, errs.New(errs.CodeRateLimited, "too many requests, please slow down")
	}

	priority := task.PriorityNormal
	if d.elevated(ctx, s.RequesterID) {
		priority = task.PriorityElevated
	}
	recipient := s.RecipientID
	if recipient == 0 {
		recipient = s.RequesterID
	}

	now := d.now()
	req := &task.Request{
		ID:          task.NewID(),
		RequesterID: s.RequesterID,
		RecipientID: recipient,
		URL:         url,
		Kind:        task.ResolveKind(url, s.Kind),
		Priority:    priority,
		SubmittedAt: now,
		Status:      task.StatusQueued,
		ReplyTo:     s.ReplyTo,
		UpdatedAt:   now,
	}

	d.mu.Lock()
	if err := d.deps.Queue.Enqueue(req); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.records[req.ID] = &record{req: req, percent: -1}
	ev := task.StatusEvent(req)
	out := req.Clone()
	d.mu.Unlock()

	logger.Info("Request queued",
		"request_id", req.ID,
		"user_id", req.RequesterID,
		"kind", req.Kind,
		"priority", req.Priority,
		"url", url)
	d.events.publish(ev)
	return out, nil
}

func (d *Dispatcher) elevated(ctx context.Context, userID int64) bool {
	if d.deps.Users == nil {
		return false
	}
	ok, err := d.deps.Users.IsElevated(ctx, userID)
	if err != nil {
		logger.Warn("Elevation lookup failed", "user_id", userID, "error", err)
		return false
	}
	return ok
}

// Cancel stops a request. A queued request is cancelled at once; a running one
// is interrupted and ends as cancelled once its worker notices.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	rec, ok := d.records[id]
	if !ok || rec.req.Status.Terminal() {
		d.mu.Unlock()
		return errs.Newf(errs.CodeNotFound, "no active request %s", id)
	}

	if d.deps.Queue.Cancel(id) {
		ev, _ := d.finishLocked(rec, task.StatusCancelled, reasonCancelled)
		d.mu.Unlock()
		logger.Info("Queued request cancelled", "request_id", id)
		d.events.publish(ev)
		return nil
	}

	rec.cancelled = true
	if rec.cancel != nil {
		rec.cancel()
	}
	d.mu.Unlock()

	logger.Info("Cancellation requested", "request_id", id)
	return nil
}

func (d *Dispatcher) Get(id string) (*task.Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return nil, false
	}
	return rec.req.Clone(), true
}

// List returns the requests of one user, oldest first.
func (d *Dispatcher) List(userID int64) []*task.Request {
	return d.collect(func(r *task.Request) bool { return r.RequesterID == userID })
}

// Active returns every request that has not reached a terminal state.
func (d *Dispatcher) Active() []*task.Request {
	return d.collect(func(r *task.Request) bool { return !r.Status.Terminal() })
}

func (d *Dispatcher) collect(keep func(*task.Request) bool) []*task.Request {
	d.mu.Lock()
	out := make([]*task.Request, 0)
	for _, rec := range d.records {
		if keep(rec.req) {
			out = append(out, rec.req.Clone())
		}
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Position returns where a queued request sits among its owner's pending ones.
func (d *Dispatcher) Position(id string) (int, bool) {
	return d.deps.Queue.Position(id)
}

func (d *Dispatcher) Pending() int {
	return d.deps.Queue.Len()
}

// Subscribe streams status and progress events until the returned func is called.
func (d *Dispatcher) Subscribe() (<-chan task.Event, func()) {
	return d.events.subscribe()
}

// Shutdown stops intake and waits for Run to drain.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closing.Store(true)
	d.stopOnce.Do(func() { close(d.stop) })

	if !d.running.Load() {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finishLocked moves rec to a terminal state. d.mu must be held.
func (d *Dispatcher) finishLocked(rec *record, status task.Status, reason string) (task.Event, bool) {
	if rec.req.Status.Terminal() {
		return task.Event{}, false
	}
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
	rec.req.Status = status
	rec.req.Reason = reason
	rec.req.UpdatedAt = d.now()

	d.history = append(d.history, rec.req.ID)
	for len(d.history) > d.opts.HistoryLimit {
		delete(d.records, d.history[0])
		d.history = d.history[1:]
	}
	return task.StatusEvent(rec.req), true
}

func (d *Dispatcher) finish(id string, status task.Status, reason string) {
	d.mu.Lock()
	rec, ok := d.records[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	ev, changed := d.finishLocked(rec, status, reason)
	d.mu.Unlock()

	if changed {
		d.events.publish(ev)
	}
}

// DefaultCaption names the file and, for split files, the part.
func DefaultCaption(req *task.Request, m *provider.Media, part, parts int) string {
	title := m.Title
	if title == "" {
		title = filepath.Base(m.Path)
	}
	if parts > 1 {
		return fmt.Sprintf("%s (part %d/%d)", title, part, parts)
	}
	return title
}
