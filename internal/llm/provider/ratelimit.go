package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/dr-kube/dr-kube/internal/llm"
)

// rateLimited throttles calls to the wrapped completer.
type rateLimited struct {
	next    llm.Completer
	limiter *rate.Limiter
}

// RateLimited allows at most perMinute completions per minute, with a burst
// of one. Callers block until a token is available or ctx is done.
func RateLimited(next llm.Completer, perMinute int) llm.Completer {
	return &rateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *rateLimited) Name() string { return r.next.Name() }

func (r *rateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Complete(ctx, prompt)
}

// timeoutCompleter bounds each completion call.
type timeoutCompleter struct {
	next    llm.Completer
	timeout time.Duration
}

// WithTimeout bounds every completion call by d.
func WithTimeout(next llm.Completer, d time.Duration) llm.Completer {
	return &timeoutCompleter{next: next, timeout: d}
}

func (t *timeoutCompleter) Name() string { return t.next.Name() }

func (t *timeoutCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, prompt)
}
