package dispatcher

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pavelc4/aether-queue/internal/artifact"
	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/middleware"
	"github.com/pavelc4/aether-queue/internal/provider"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/logger"
	"github.com/pavelc4/aether-queue/pkg/utils"
	"github.com/pavelc4/aether-queue/pkg/worker"
)

// Run schedules queued requests onto at most MaxConcurrency workers until ctx
// is done or Shutdown is called. Running requests then get DrainTimeout to
// finish; whatever is still queued is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("dispatcher: already running")
	}
	defer close(d.done)

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go func() {
		select {
		case <-d.stop:
			cancelLoop()
		case <-loopCtx.Done():
		}
	}()

	pool := worker.NewPool(jobCtx, d.opts.MaxConcurrency)
	slots := semaphore.NewWeighted(int64(d.opts.MaxConcurrency))
	logger.Info("Dispatcher started", "workers", d.opts.MaxConcurrency)

	for {
		if err := slots.Acquire(loopCtx, 1); err != nil {
			break
		}
		req, ok := d.next(loopCtx)
		if !ok {
			slots.Release(1)
			break
		}

		job := d.job(req)
		submitted := pool.Submit(func(ctx context.Context) error {
			defer slots.Release(1)
			return job(ctx)
		})
		if !submitted {
			slots.Release(1)
			d.finish(req.ID, task.StatusCancelled, reasonShutdown)
			break
		}
	}

	d.closing.Store(true)
	d.drain(pool, cancelJobs)

	left := d.deps.Queue.Drain()
	for _, req := range left {
		d.finish(req.ID, task.StatusCancelled, reasonShutdown)
	}
	d.events.close()

	logger.Info("Dispatcher stopped", "cancelled_queued", len(left))
	return nil
}

func (d *Dispatcher) drain(pool *worker.Pool, cancelJobs context.CancelFunc) {
	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	timer := time.NewTimer(d.opts.DrainTimeout)
	defer timer.Stop()

	select {
	case <-stopped:
	case <-timer.C:
		logger.Warn("Drain timeout reached, interrupting running downloads", "timeout", d.opts.DrainTimeout)
		cancelJobs()
		<-stopped
	}
}

// next blocks until a queued request is ready or ctx is done.
func (d *Dispatcher) next(ctx context.Context) (*task.Request, bool) {
	for {
		if req, ok := d.deps.Queue.Dequeue(); ok {
			return req, true
		}

		var timer *time.Timer
		var wake <-chan time.Time
		if at, ok := d.deps.Queue.NextReadyAt(); ok {
			timer = time.NewTimer(time.Until(at))
			wake = timer.C
		} else if d.deps.Queue.Len() > 0 {
			continue
		}

		select {
		case <-ctx.Done():
		case <-d.deps.Queue.Ready():
		case <-wake:
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			return nil, false
		}
	}
}

func (d *Dispatcher) job(req *task.Request) worker.Job {
	run := middleware.Chain(
		func(ctx context.Context) error { return d.execute(ctx, req) },
		middleware.Logger("request"),
		middleware.Recover,
	)

	return func(ctx context.Context) error {
		runCtx, ok := d.begin(ctx, req)
		if !ok {
			return nil
		}
		d.settle(ctx, req, run(runCtx))
		return nil
	}
}

// begin marks req running and returns the context its work runs under.
func (d *Dispatcher) begin(ctx context.Context, req *task.Request) (context.Context, bool) {
	d.mu.Lock()
	rec, ok := d.records[req.ID]
	if !ok || rec.req.Status.Terminal() {
		d.mu.Unlock()
		return nil, false
	}
	if rec.cancelled {
		ev, _ := d.finishLocked(rec, task.StatusCancelled, reasonCancelled)
		d.mu.Unlock()
		d.events.publish(ev)
		return nil, false
	}

	runCtx, cancel := context.WithCancel(ctx)
	rec.cancel = cancel
	rec.percent = -1
	rec.req.Status = task.StatusRunning
	rec.req.Reason = ""
	rec.req.UpdatedAt = d.now()
	ev := task.StatusEvent(rec.req)
	d.mu.Unlock()

	logger.Info("Request started", "request_id", req.ID, "user_id", req.RequesterID, "attempt", req.Attempt)
	d.events.publish(ev)
	return runCtx, true
}

func (d *Dispatcher) execute(ctx context.Context, req *task.Request) error {
	if !req.Charged {
		if _, err := d.deps.Quota.Reserve(ctx, req.RequesterID, d.estimate(ctx, req)); err != nil {
			return err
		}
	}

	m, err := d.fetch(ctx, req)
	if err != nil {
		return err
	}

	a := d.deps.Store.Register(m.Path, d.opts.ArtifactTTL, artifact.WithDir(m.Dir), artifact.WithRequest(req.ID), artifact.WithLease())
	defer d.deps.Store.Release(m.Path)

	if err := ctx.Err(); err != nil {
		return err
	}

	size := m.Size
	if size <= 0 {
		size = a.SizeBytes
	}
	d.charge(ctx, req, size)

	parts := []string{m.Path}
	if size > d.opts.MaxPartBytes {
		if !d.transition(req, task.StatusSplitting, 0) {
			return errs.ErrCancelled
		}
		parts, err = d.deps.Splitter.Split(ctx, m.Path, d.opts.MaxPartBytes)
		if err != nil {
			return err
		}
		d.deps.Store.SetParts(m.Path, parts)
	}

	if !d.transition(req, task.StatusDelivering, len(parts)) {
		return errs.ErrCancelled
	}
	for i, p := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.deps.Store.Touch(m.Path)

		caption := d.opts.Caption(req, m, i+1, len(parts))
		if err := d.deps.Delivery.Send(ctx, req.RecipientID, p, caption, i == len(parts)-1); err != nil {
			return err
		}
		d.events.publish(task.Event{
			Type:        task.EventProgress,
			RequestID:   req.ID,
			RequesterID: req.RequesterID,
			RecipientID: req.RecipientID,
			ReplyTo:     req.ReplyTo,
			Status:      task.StatusDelivering,
			Attempt:     req.Attempt,
			Part:        i + 1,
			Parts:       len(parts),
			At:          d.now(),
		})
	}
	return nil
}

func (d *Dispatcher) fetch(ctx context.Context, req *task.Request) (*provider.Media, error) {
	fetchCtx := ctx
	if d.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d.opts.FetchTimeout)
		defer cancel()
	}

	m, err := d.deps.Fetcher.Fetch(fetchCtx, req.URL, req.Kind, d.progress(req))
	if err != nil && ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
		return nil, errs.Wrap(errs.CodeFetchTransient, "fetch timed out", err)
	}
	return m, err
}

// charge bills the fetched size once per request. Going over the limit does
// not stop this delivery; the next Reserve rejects.
func (d *Dispatcher) charge(ctx context.Context, req *task.Request, size int64) {
	if req.Charged {
		return
	}
	if err := d.deps.Quota.Charge(ctx, req.RequesterID, size); err != nil {
		logger.Warn("Download pushed user over quota", "request_id", req.ID, "user_id", req.RequesterID, "error", err)
	}

	d.mu.Lock()
	req.Charged = true
	req.Bytes = size
	d.mu.Unlock()
}

func (d *Dispatcher) estimate(ctx context.Context, req *task.Request) int64 {
	if d.deps.Estimator == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.EstimateTimeout)
	defer cancel()

	n, err := d.deps.Estimator.Estimate(ctx, req.URL, req.Kind)
	if err != nil {
		logger.Debug("Size estimate unavailable", "request_id", req.ID, "error", err)
		return 0
	}
	return n
}

// transition moves a running request to status unless it was cancelled.
func (d *Dispatcher) transition(req *task.Request, status task.Status, parts int) bool {
	d.mu.Lock()
	rec, ok := d.records[req.ID]
	if !ok || rec.cancelled || rec.req.Status.Terminal() {
		d.mu.Unlock()
		return false
	}
	rec.req.Status = status
	if parts > 0 {
		rec.req.Parts = parts
	}
	rec.req.UpdatedAt = d.now()
	ev := task.StatusEvent(rec.req)
	d.mu.Unlock()

	d.events.publish(ev)
	return true
}

// progress publishes fetch progress, once per whole percent.
func (d *Dispatcher) progress(req *task.Request) provider.ProgressFunc {
	return func(p provider.Progress) {
		pct := int(p.Percent)

		d.mu.Lock()
		rec, ok := d.records[req.ID]
		if !ok || pct == rec.percent || rec.req.Status != task.StatusRunning {
			d.mu.Unlock()
			return
		}
		rec.percent = pct
		ev := task.Event{
			Type:        task.EventProgress,
			RequestID:   req.ID,
			RequesterID: req.RequesterID,
			RecipientID: req.RecipientID,
			ReplyTo:     req.ReplyTo,
			Status:      task.StatusRunning,
			Attempt:     rec.req.Attempt,
			Percent:     p.Percent,
			Downloaded:  p.Downloaded,
			Total:       p.Total,
			At:          d.now(),
		}
		d.mu.Unlock()

		d.events.publish(ev)
	}
}

// settle records the outcome of one attempt. ctx is the job context, which is
// only cancelled when shutdown gives up waiting.
func (d *Dispatcher) settle(ctx context.Context, req *task.Request, err error) {
	if err == nil {
		d.finish(req.ID, task.StatusDone, "")
		d.record(req, true)
		logger.Info("Request done", "request_id", req.ID, "size", utils.FormatFileSize(req.Bytes), "parts", req.Parts)
		return
	}

	if d.userCancelled(req.ID) {
		d.finish(req.ID, task.StatusCancelled, reasonCancelled)
		logger.Info("Request cancelled", "request_id", req.ID)
		return
	}
	if ctx.Err() != nil {
		d.finish(req.ID, task.StatusCancelled, reasonShutdown)
		return
	}

	attempt := req.Attempt
	if d.deps.Retry.ShouldRetry(err, attempt) {
		delay := d.deps.Retry.Delay(err, attempt)
		if d.requeue(req, err, delay) {
			logger.Warn("Request failed, retrying",
				"request_id", req.ID,
				"attempt", attempt+1,
				"delay", delay,
				"error", err)
			return
		}
	}

	logger.Error("Request failed",
		"request_id", req.ID,
		"user_id", req.RequesterID,
		"code", errs.CodeOf(err),
		"attempt", attempt,
		"error", err)
	d.finish(req.ID, task.StatusFailed, errs.Message(err))
	d.record(req, false)
}

func (d *Dispatcher) userCancelled(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	return ok && rec.cancelled
}

// requeue schedules another attempt after delay. Holding d.mu across the queue
// insert keeps Cancel from seeing the request in neither place.
func (d *Dispatcher) requeue(req *task.Request, cause error, delay time.Duration) bool {
	d.mu.Lock()
	rec, ok := d.records[req.ID]
	if !ok || rec.cancelled || rec.req.Status.Terminal() {
		d.mu.Unlock()
		return false
	}
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}

	now := d.now()
	prev := *rec.req
	rec.req.Attempt++
	rec.req.NotBefore = now.Add(delay)
	rec.req.Status = task.StatusQueued
	rec.req.Reason = errs.Message(cause)
	rec.req.UpdatedAt = now

	if err := d.deps.Queue.Requeue(rec.req); err != nil {
		*rec.req = prev
		d.mu.Unlock()
		logger.Error("Requeue failed", "request_id", req.ID, "error", err)
		return false
	}
	ev := task.StatusEvent(rec.req)
	d.mu.Unlock()

	d.events.publish(ev)
	return true
}

func (d *Dispatcher) record(req *task.Request, success bool) {
	if d.deps.Stats == nil {
		return
	}
	d.mu.Lock()
	files, bytes := req.Parts, req.Bytes
	d.mu.Unlock()

	d.deps.Stats.RecordDownload(req.RequesterID, task.Platform(req.URL), req.Kind.String(), files, bytes, success)
}
