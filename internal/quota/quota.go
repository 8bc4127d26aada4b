// Package quota tracks how many bytes each user downloaded today.
// Counters reset lazily at the UTC day boundary.
package quota

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

const dayLayout = "2006-01-02"

type Elevation interface {
	IsElevated(ctx context.Context, userID int64) (bool, error)
}

type UserQuota struct {
	UserID         int64  `json:"user_id"`
	BytesUsedToday int64  `json:"bytes_used_today"`
	ResetDate      string `json:"reset_date"`
	LastCharge     int64  `json:"last_charge"`
}

type userState struct {
	mu sync.Mutex
	q  UserQuota
}

type Tracker struct {
	limit   int64
	elev    Elevation
	users   sync.Map
	version atomic.Uint64
	now     func() time.Time
}

// New creates a tracker with a daily limit in bytes. limit <= 0 disables the limit.
func New(limit int64, elev Elevation) *Tracker {
	return &Tracker{
		limit: limit,
		elev:  elev,
		now:   time.Now,
	}
}

func (t *Tracker) Limit() int64 {
	return t.limit
}

func (t *Tracker) state(userID int64) *userState {
	v, _ := t.users.LoadOrStore(userID, &userState{q: UserQuota{UserID: userID}})
	return v.(*userState)
}

func (t *Tracker) today() string {
	return t.now().UTC().Format(dayLayout)
}

// rollover must be called with s.mu held.
func (s *userState) rollover(day string) {
	if s.q.ResetDate != day {
		s.q.BytesUsedToday = 0
		s.q.LastCharge = 0
		s.q.ResetDate = day
	}
}

func (t *Tracker) elevated(ctx context.Context, userID int64) bool {
	if t.elev == nil {
		return false
	}
	ok, err := t.elev.IsElevated(ctx, userID)
	if err != nil {
		logger.Warn("Elevation lookup failed, applying quota", "user_id", userID, "error", err)
		return false
	}
	return ok
}

// Reserve is an advisory check made before any fetch. estimate is the expected
// artifact size; when unknown (<= 0) the user's last charge today stands in.
func (t *Tracker) Reserve(ctx context.Context, userID, estimate int64) (int64, error) {
	elevated := t.elevated(ctx, userID)

	s := t.state(userID)
	s.mu.Lock()
	s.rollover(t.today())
	used := s.q.BytesUsedToday
	if estimate <= 0 {
		estimate = s.q.LastCharge
	}
	s.mu.Unlock()

	if elevated || t.limit <= 0 {
		return used, nil
	}
	if used >= t.limit || used+estimate > t.limit {
		return used, errs.Newf(errs.CodeQuotaExceeded,
			"daily quota exhausted: %s of %s used", humanize.IBytes(uint64(used)), humanize.IBytes(uint64(t.limit)))
	}
	return used, nil
}

// Charge records bytes for a completed fetch. The bytes are always recorded;
// QuotaExceeded is returned when a non-elevated user is now over the limit.
func (t *Tracker) Charge(ctx context.Context, userID, bytes int64) error {
	if bytes < 0 {
		bytes = 0
	}
	elevated := t.elevated(ctx, userID)

	s := t.state(userID)
	s.mu.Lock()
	s.rollover(t.today())
	s.q.BytesUsedToday += bytes
	s.q.LastCharge = bytes
	used := s.q.BytesUsedToday
	s.mu.Unlock()
	t.version.Add(1)

	if elevated || t.limit <= 0 || used <= t.limit {
		return nil
	}
	return errs.Newf(errs.CodeQuotaExceeded,
		"daily quota exceeded: %s of %s used", humanize.IBytes(uint64(used)), humanize.IBytes(uint64(t.limit)))
}

func (t *Tracker) Usage(userID int64) UserQuota {
	s := t.state(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover(t.today())
	return s.q
}

// Remaining returns the bytes left today, or -1 when unlimited.
func (t *Tracker) Remaining(ctx context.Context, userID int64) int64 {
	if t.limit <= 0 || t.elevated(ctx, userID) {
		return -1
	}
	left := t.limit - t.Usage(userID).BytesUsedToday
	if left < 0 {
		return 0
	}
	return left
}

func (t *Tracker) Snapshot() []UserQuota {
	var out []UserQuota
	t.users.Range(func(_, v any) bool {
		s := v.(*userState)
		s.mu.Lock()
		out = append(out, s.q)
		s.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Restore loads persisted counters. Entries from earlier days are reset on first use.
func (t *Tracker) Restore(list []UserQuota) {
	for _, q := range list {
		s := t.state(q.UserID)
		s.mu.Lock()
		s.q = q
		s.mu.Unlock()
	}
}

type Saver interface {
	SaveQuotas(ctx context.Context, list []UserQuota) error
}

// Run persists a snapshot every interval when counters changed, and once more on shutdown.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, saver Saver) error {
	if saver == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var saved uint64
	flush := func(ctx context.Context) {
		v := t.version.Load()
		if v == saved {
			return
		}
		if err := saver.SaveQuotas(ctx, t.Snapshot()); err != nil {
			logger.Error("Failed to save quotas", "error", err)
			return
		}
		saved = v
	}

	for {
		select {
		case <-ctx.Done():
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(shutdown)
			cancel()
			return nil
		case <-ticker.C:
			flush(ctx)
		}
	}
}
