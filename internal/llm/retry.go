package llm

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// transientMarkers are substrings that mark an error as worth retrying.
// Matching is case-insensitive.
var transientMarkers = []string{
	"429",
	"rate",
	"quota",
	"timeout",
	"temporar",
	"unavailable",
	"503",
	"500",
}

// Transient reports whether an error looks like a rate limit or a
// momentary provider failure rather than a hard rejection.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const (
	baseBackoff = 600 * time.Millisecond
	maxBackoff  = 5 * time.Second
	jitterStep  = 250 * time.Millisecond
)

// Retrier wraps a CallFunc with bounded retries on transient failures.
// Retries is the number of attempts after the first; non-transient
// errors surface immediately.
type Retrier struct {
	Retries int
	Logger  *zap.Logger

	// Sleep is swapped out in tests. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Do runs call, retrying transient errors with exponential backoff.
func (r *Retrier) Do(ctx context.Context, call CallFunc, req Request) (string, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			sleep(backoff(attempt - 1))
		}

		text, err := call(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !Transient(err) {
			return "", err
		}
		logger.Warn("transient LLM failure, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.Retries+1),
			zap.Error(err))
	}
	return "", lastErr
}

func backoff(attempt int) time.Duration {
	d := baseBackoff * (1 << uint(attempt))
	d += time.Duration(rand.Float64() * float64(jitterStep))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
