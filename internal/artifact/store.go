// Package artifact keeps track of downloaded files until they are delivered
// or expire, and deletes each one exactly once.
package artifact

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pavelc4/aether-queue/pkg/logger"
	"github.com/pavelc4/aether-queue/pkg/utils"
)

type Part struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

type Artifact struct {
	Path      string        `json:"path"`
	SizeBytes int64         `json:"size_bytes"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
	Parts     []Part        `json:"parts,omitempty"`
	// Dir is removed along with the files when set.
	Dir       string `json:"dir,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// Leased artifacts are in use by a worker; Sweep leaves them to Release.
	Leased bool `json:"leased,omitempty"`
}

type Option func(*Artifact)

// WithDir ties the artifact to its job directory.
func WithDir(dir string) Option {
	return func(a *Artifact) { a.Dir = dir }
}

func WithRequest(id string) Option {
	return func(a *Artifact) { a.RequestID = id }
}

// WithLease keeps the artifact out of Sweep until it is released.
func WithLease() Option {
	return func(a *Artifact) { a.Leased = true }
}

type Store struct {
	mu    sync.Mutex
	items map[string]*Artifact
	root  string
	now   func() time.Time
}

// NewStore creates a store whose job directories live under root.
func NewStore(root string) *Store {
	if root == "" {
		root = os.TempDir()
	}
	return &Store{
		items: make(map[string]*Artifact),
		root:  root,
		now:   time.Now,
	}
}

func (s *Store) Root() string {
	return s.root
}

// NewWorkDir creates a fresh directory for one job.
func (s *Store) NewWorkDir() (string, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(s.root, utils.WorkDirPrefix+"*")
}

// Register starts tracking path. Registering the same path again refreshes its expiry.
func (s *Store) Register(path string, ttl time.Duration, opts ...Option) Artifact {
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.items[path]
	if !ok {
		a = &Artifact{Path: path, CreatedAt: now}
		s.items[path] = a
	}
	a.SizeBytes = size
	a.TTL = ttl
	a.ExpiresAt = now.Add(ttl)
	for _, opt := range opts {
		opt(a)
	}
	return a.clone()
}

// Touch pushes the expiry of path one TTL into the future.
func (s *Store) Touch(path string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.items[path]
	if !ok {
		return false
	}
	a.ExpiresAt = now.Add(a.TTL)
	return true
}

// SetParts records the parts that replace the original file for delivery.
func (s *Store) SetParts(path string, parts []string) bool {
	list := make([]Part, 0, len(parts))
	for _, p := range parts {
		var size int64
		if fi, err := os.Stat(p); err == nil {
			size = fi.Size()
		}
		list = append(list, Part{Path: p, SizeBytes: size})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.items[path]
	if !ok {
		return false
	}
	a.Parts = list
	return true
}

func (s *Store) Get(path string) (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.items[path]
	if !ok {
		return Artifact{}, false
	}
	return a.clone(), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) List() []Artifact {
	s.mu.Lock()
	out := make([]Artifact, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Release deletes an artifact after delivery or abandonment. Only the first
// call for a path deletes anything.
func (s *Store) Release(path string) bool {
	s.mu.Lock()
	a, ok := s.items[path]
	if ok {
		delete(s.items, path)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.remove(a)
	return true
}

// Sweep deletes every unleased artifact whose expiry is at or before now.
func (s *Store) Sweep(now time.Time) int {
	var expired []*Artifact

	s.mu.Lock()
	for path, a := range s.items {
		if !a.Leased && !a.ExpiresAt.After(now) {
			expired = append(expired, a)
			delete(s.items, path)
		}
	}
	s.mu.Unlock()

	for _, a := range expired {
		logger.Info("Artifact expired", "path", a.Path, "request_id", a.RequestID)
		s.remove(a)
	}
	return len(expired)
}

// Run sweeps on a fixed interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				logger.Info("Artifact sweep completed", "removed", n)
			}
		}
	}
}

// PurgeOrphans removes job directories left behind by a previous process.
func (s *Store) PurgeOrphans(ctx context.Context) int {
	return utils.CleanupTempFilesByPattern(ctx, s.root, utils.TempFilePatterns)
}

func (s *Store) remove(a *Artifact) {
	for _, p := range a.Parts {
		if err := utils.RemoveQuietly(p.Path); err != nil {
			logger.Warn("Failed to remove part", "path", p.Path, "error", err)
		}
	}
	if err := utils.RemoveQuietly(a.Path); err != nil {
		logger.Warn("Failed to remove artifact", "path", a.Path, "error", err)
	}
	if a.Dir != "" {
		if err := utils.RemoveQuietly(a.Dir); err != nil {
			logger.Warn("Failed to remove work dir", "dir", a.Dir, "error", err)
		}
	}
}

func (a *Artifact) clone() Artifact {
	c := *a
	c.Parts = append([]Part(nil), a.Parts...)
	return c
}
