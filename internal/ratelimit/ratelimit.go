// Package ratelimit counts intake requests per user in fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
	// dead is set once Prune has removed the window from the map.
	dead bool
}

type Limiter struct {
	limit  int
	period time.Duration
	users  sync.Map
	now    func() time.Time
}

// New allows limit requests per period for each user. limit <= 0 disables limiting.
func New(limit int, period time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		period: period,
		now:    time.Now,
	}
}

func (l *Limiter) Allow(userID int64) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.now()

	for {
		v, loaded := l.users.LoadOrStore(userID, &window{start: now, count: 1})
		if !loaded {
			return true
		}
		w := v.(*window)

		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		ok := l.admit(w, now)
		w.mu.Unlock()
		return ok
	}
}

func (l *Limiter) admit(w *window, now time.Time) bool {
	if now.Sub(w.start) >= l.period {
		w.start = now
		w.count = 1
		return true
	}
	if w.count <= l.limit {
		w.count++
	}
	return w.count <= l.limit
}

// Remaining reports how many requests the user may still make in the current window.
func (l *Limiter) Remaining(userID int64) int {
	if l.limit <= 0 {
		return -1
	}
	v, ok := l.users.Load(userID)
	if !ok {
		return l.limit
	}
	w := v.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead || l.now().Sub(w.start) >= l.period {
		return l.limit
	}
	if w.count >= l.limit {
		return 0
	}
	return l.limit - w.count
}

// Prune drops windows that have already elapsed. The window stays locked
// while it is removed so a concurrent Allow cannot count into it.
func (l *Limiter) Prune(now time.Time) int {
	removed := 0
	l.users.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		if !w.dead && now.Sub(w.start) >= l.period {
			w.dead = true
			l.users.CompareAndDelete(key, value)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Run prunes idle windows every interval until ctx ends.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = l.period
	}
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Prune(l.now())
		}
	}
}
