package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("worker: %w", New(CodeQuotaExceeded, "daily limit reached"))

	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.NotErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, CodeQuotaExceeded, CodeOf(err))
	assert.Equal(t, "daily limit reached", Message(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeFetchTransient, "fetch failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrFetchTransient)
	assert.Equal(t, "fetch failed: connection reset", err.Error())
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", WithRetryAfter(CodeFetchTransient, "slow down", 7*time.Second, nil))
	assert.Equal(t, 7*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.True(t, IsIntake(New(CodeRateLimited, "")))
	assert.False(t, IsIntake(New(CodeFetchPermanent, "")))
}
