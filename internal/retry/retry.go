// Package retry decides whether a failed job runs again and how long it waits.
package retry

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pavelc4/aether-queue/internal/errs"
)

type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

var (
	pleaseWaitRe = regexp.MustCompile(`(?i)(?:please\s+)?wait\s+(?:for\s+)?(\d+)\s*(?:s|sec|secs|second|seconds)\b`)

	transientMarkers = []string{
		"http error 429",
		"too many requests",
		"rate limit",
		"rate-limit",
		"timed out",
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"flood_wait",
		"http error 503",
		"http error 502",
		"unexpected eof",
	}
)

type Policy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	// Jitter is the randomization factor in [0,1].
	Jitter float64
}

func NewPolicy(base, max time.Duration, maxAttempts int) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Policy{
		Base:        base,
		Max:         max,
		MaxAttempts: maxAttempts,
		Jitter:      0.2,
	}
}

// Classify sorts err into Transient or Permanent. Errors carrying a taxonomy
// code are classified by code; anything unrecognised is Permanent.
func (p *Policy) Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	switch errs.CodeOf(err) {
	case errs.CodeFetchTransient, errs.CodeDeliveryTransient:
		return Transient
	case errs.CodeInvalidRequest, errs.CodeQuotaExceeded, errs.CodeFetchPermanent,
		errs.CodeUnsplittableArtifact, errs.CodeDeliveryPermanent, errs.CodeCancelled,
		errs.CodeRateLimited, errs.CodeQueueFull, errs.CodeNotFound:
		return Permanent
	}

	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	if pleaseWaitRe.MatchString(msg) {
		return Transient
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return Transient
		}
	}
	return Permanent
}

// NextDelay returns base * 2^attempt capped at Max, with jitter.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = 2
	b.MaxInterval = p.Max
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Delay is NextDelay, raised to whatever wait the upstream asked for.
func (p *Policy) Delay(err error, attempt int) time.Duration {
	d := p.NextDelay(attempt)
	if after := RetryAfter(err); after > d {
		d = after
	}
	return d
}

// ShouldRetry reports whether a job that failed on attempt (0-based) runs again.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	return p.Classify(err) == Transient && attempt+1 < p.MaxAttempts
}

// RetryAfter extracts the requested wait from an error, either from the
// taxonomy field or from a "please wait N seconds" message.
func RetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}
	if d := errs.RetryAfterOf(err); d > 0 {
		return d
	}
	m := pleaseWaitRe.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return 0
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}
