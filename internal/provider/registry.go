package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pavelc4/aether-queue/internal/errs"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

// Registry tries every provider that supports a URL, in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

func (r *Registry) targets(url string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	for _, p := range r.providers {
		if p.Supports(url) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Supports(url string) bool {
	return len(r.targets(url)) > 0
}

// Fetch returns the first successful result. When every provider fails, a
// transient failure wins over a permanent one so the job is retried.
func (r *Registry) Fetch(ctx context.Context, url string, kind task.Kind, progress ProgressFunc) (*Media, error) {
	targets := r.targets(url)
	if len(targets) == 0 {
		return nil, errs.New(errs.CodeFetchPermanent, "no provider found for this URL")
	}

	var transient, last error
	for _, p := range targets {
		m, err := p.Fetch(ctx, url, kind, progress)
		if err == nil {
			m.Source = p.Name()
			return m, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.Warn("Provider failed", "provider", p.Name(), "url", url, "error", err)
		err = fmt.Errorf("%s: %w", p.Name(), err)
		if transient == nil && errs.CodeOf(err) == errs.CodeFetchTransient {
			transient = err
		}
		last = err
	}

	if transient != nil {
		return nil, transient
	}
	return nil, last
}

// Estimate asks providers that can predict a size; 0 means unknown.
func (r *Registry) Estimate(ctx context.Context, url string, kind task.Kind) (int64, error) {
	var errList []error
	for _, p := range r.targets(url) {
		e, ok := p.(Estimator)
		if !ok {
			continue
		}
		n, err := e.Estimate(ctx, url, kind)
		if err == nil && n > 0 {
			return n, nil
		}
		if err != nil {
			errList = append(errList, err)
		}
	}
	return 0, errors.Join(errList...)
}
