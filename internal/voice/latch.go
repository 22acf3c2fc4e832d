package voice

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStartTimeout is returned by Latch.Wait when the session never started.
var ErrStartTimeout = errors.New("voice: session start timed out")

// Latch is set once and waited on by any number of goroutines. The time of
// the first Set is the session's zero point for utterance offsets.
type Latch struct {
	once sync.Once
	done chan struct{}
	at   time.Time
}

func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Set reports whether this call was the one that set the latch.
func (l *Latch) Set() bool {
	first := false
	l.once.Do(func() {
		l.at = time.Now()
		close(l.done)
		first = true
	})
	return first
}

// Done is closed once the latch is set.
func (l *Latch) Done() <-chan struct{} { return l.done }

func (l *Latch) IsSet() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch is set, timeout elapses (ErrStartTimeout), or
// ctx is done (ctx.Err()).
func (l *Latch) Wait(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.done:
		return nil
	case <-t.C:
		return ErrStartTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetAt is the wall-clock time of the first Set, zero if unset.
func (l *Latch) SetAt() time.Time {
	if !l.IsSet() {
		return time.Time{}
	}
	return l.at
}

// Since is the monotonic time elapsed since the first Set, 0 if unset.
func (l *Latch) Since() time.Duration {
	if !l.IsSet() {
		return 0
	}
	return time.Since(l.at)
}
