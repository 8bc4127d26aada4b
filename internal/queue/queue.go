// Package queue holds pending download requests in per-user FIFO queues
// and hands them out round-robin across users.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/task"
)

type entry struct {
	req *task.Request
	seq uint64
}

type Queue struct {
	mu         sync.Mutex
	users      map[int64][]*entry
	order      []int64
	cursor     int
	byID       map[string]*entry
	seq        uint64
	maxPerUser int
	ready      chan struct{}
	now        func() time.Time
}

// New creates a queue. maxPerUser <= 0 means unbounded.
func New(maxPerUser int) *Queue {
	return &Queue{
		users:      make(map[int64][]*entry),
		byID:       make(map[string]*entry),
		maxPerUser: maxPerUser,
		ready:      make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Enqueue admits a new request. It fails with QueueFull when the requester
// already has maxPerUser pending entries.
func (q *Queue) Enqueue(req *task.Request) error {
	q.mu.Lock()
	if err := q.checkRoom(req.RequesterID); err != nil {
		q.mu.Unlock()
		return err
	}
	q.insert(req)
	q.mu.Unlock()

	q.signal()
	return nil
}

// HasRoom reports QueueFull when userID could not enqueue right now.
func (q *Queue) HasRoom(userID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.checkRoom(userID)
}

func (q *Queue) checkRoom(userID int64) error {
	if q.maxPerUser > 0 && len(q.users[userID]) >= q.maxPerUser {
		return errs.Newf(errs.CodeQueueFull, "you already have %d pending downloads", q.maxPerUser)
	}
	return nil
}

// Requeue puts back a request that was already admitted, e.g. for a retry.
// The per-user limit does not apply.
func (q *Queue) Requeue(req *task.Request) error {
	q.mu.Lock()
	if _, ok := q.byID[req.ID]; ok {
		q.mu.Unlock()
		return errs.Newf(errs.CodeInvalidRequest, "request %s is already queued", req.ID)
	}
	q.insert(req)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *Queue) insert(req *task.Request) {
	q.seq++
	e := &entry{req: req, seq: q.seq}

	uid := req.RequesterID
	list, exists := q.users[uid]
	list = append(list, e)
	sort.SliceStable(list, func(i, j int) bool {
		return less(list[i], list[j])
	})
	q.users[uid] = list
	q.byID[req.ID] = e
	if !exists {
		q.order = append(q.order, uid)
	}
}

func less(a, b *entry) bool {
	if a.req.Priority != b.req.Priority {
		return a.req.Priority > b.req.Priority
	}
	if !a.req.SubmittedAt.Equal(b.req.SubmittedAt) {
		return a.req.SubmittedAt.Before(b.req.SubmittedAt)
	}
	return a.seq < b.seq
}

// Dequeue returns the next eligible request. Users take turns; priority only
// orders entries within one user's queue.
func (q *Queue) Dequeue() (*task.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return nil, false
	}
	if idx, pos, ok := q.scan(q.now()); ok {
		return q.take(idx, pos), true
	}
	return nil, false
}

// scan walks users starting at the cursor and returns the first user index
// with a ready entry, and that entry's position in the user's queue.
func (q *Queue) scan(now time.Time) (int, int, bool) {
	n := len(q.order)
	for i := 0; i < n; i++ {
		idx := (q.cursor + i) % n
		for pos, e := range q.users[q.order[idx]] {
			if e.req.NotBefore.After(now) {
				continue
			}
			return idx, pos, true
		}
	}
	return 0, 0, false
}

func (q *Queue) take(idx, pos int) *task.Request {
	uid := q.order[idx]
	list := q.users[uid]
	e := list[pos]

	list = append(list[:pos], list[pos+1:]...)
	delete(q.byID, e.req.ID)

	q.cursor = idx + 1
	if len(list) == 0 {
		q.removeUser(idx)
	} else {
		q.users[uid] = list
	}
	if len(q.order) > 0 {
		q.cursor %= len(q.order)
	} else {
		q.cursor = 0
	}
	return e.req
}

func (q *Queue) removeUser(idx int) {
	uid := q.order[idx]
	delete(q.users, uid)
	q.order = append(q.order[:idx], q.order[idx+1:]...)
	if idx < q.cursor {
		q.cursor--
	}
}

// Cancel removes a still-queued request. It returns false when the request
// is unknown or already handed to a worker.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[id]
	if !ok {
		return false
	}
	delete(q.byID, id)

	uid := e.req.RequesterID
	list := q.users[uid]
	for i, x := range list {
		if x == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) > 0 {
		q.users[uid] = list
		return true
	}
	for i, u := range q.order {
		if u == uid {
			q.removeUser(i)
			break
		}
	}
	if len(q.order) > 0 {
		q.cursor %= len(q.order)
	} else {
		q.cursor = 0
	}
	return true
}

// Ready is signalled whenever an entry is added.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// NextReadyAt reports the earliest backoff deadline among waiting entries.
// It returns false when the queue is empty or an entry is ready now.
func (q *Queue) NextReadyAt() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next time.Time
	for _, list := range q.users {
		for _, e := range list {
			nb := e.req.NotBefore
			if !nb.After(now) {
				return time.Time{}, false
			}
			if next.IsZero() || nb.Before(next) {
				next = nb
			}
		}
	}
	return next, !next.IsZero()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

func (q *Queue) Pending(userID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.users[userID])
}

// Position returns the 1-based place of a request within its user's queue.
func (q *Queue) Position(id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[id]
	if !ok {
		return 0, false
	}
	for i, x := range q.users[e.req.RequesterID] {
		if x == e {
			return i + 1, true
		}
	}
	return 0, false
}

// Drain empties the queue and returns what was still waiting, oldest first
// per user.
func (q *Queue) Drain() []*task.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*task.Request
	for _, uid := range q.order {
		for _, e := range q.users[uid] {
			out = append(out, e.req)
		}
	}
	q.users = make(map[int64][]*entry)
	q.byID = make(map[string]*entry)
	q.order = nil
	q.cursor = 0
	return out
}
