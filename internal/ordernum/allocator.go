package ordernum

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

var (
	// ErrDuplicate is returned by a ClaimFunc when the number is already taken.
	ErrDuplicate = errors.New("ordernum: number already taken")
	// ErrExhausted means every attempt hit a duplicate.
	ErrExhausted = errors.New("ordernum: allocation attempts exhausted")
)

// ClaimFunc persists the record carrying number. It must return an error
// wrapping ErrDuplicate when the number is already in use.
type ClaimFunc func(ctx context.Context, number string) error

// Sequencer hands out the next candidate sequence for a key. resync asks the
// sequencer to realign with the persisted maximum after a conflict.
type Sequencer interface {
	Next(ctx context.Context, key string, resync bool) (int, error)
}

type Allocator struct {
	Seq         Sequencer
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Observe, when set, is called once per claim attempt with "ok",
	// "conflict" or "error".
	Observe func(result string)
}

const (
	defaultAttempts   = 10
	defaultBackoff    = 20 * time.Millisecond
	defaultMaxBackoff = 500 * time.Millisecond
)

// Allocate claims the next free number for prefix on day. Conflicts are
// retried with a fresh sequence and jittered exponential backoff until
// MaxAttempts is spent.
func (a *Allocator) Allocate(ctx context.Context, prefix string, day time.Time, claim ClaimFunc) (string, error) {
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	key := Key(prefix, day)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, a.backoff(attempt)); err != nil {
				return "", err
			}
		}
		seq, err := a.Seq.Next(ctx, key, attempt > 0)
		if err != nil {
			a.observe("error")
			return "", fmt.Errorf("next sequence for %s: %w", key, err)
		}
		number := Format(key, seq)

		err = claim(ctx, number)
		switch {
		case err == nil:
			a.observe("ok")
			return number, nil
		case errors.Is(err, ErrDuplicate):
			a.observe("conflict")
			lastErr = err
		default:
			a.observe("error")
			return "", err
		}
	}
	return "", fmt.Errorf("%w: key %s after %d attempts: %v", ErrExhausted, key, attempts, lastErr)
}

func (a *Allocator) backoff(attempt int) time.Duration {
	base, ceiling := a.BaseBackoff, a.MaxBackoff
	if base <= 0 {
		base = defaultBackoff
	}
	if ceiling <= 0 {
		ceiling = defaultMaxBackoff
	}
	d := base << min(attempt-1, 16)
	if d > ceiling || d <= 0 {
		d = ceiling
	}
	// full jitter
	return rand.N(d) + 1
}

func (a *Allocator) observe(result string) {
	if a.Observe != nil {
		a.Observe(result)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
