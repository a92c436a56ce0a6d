// Package locks provides the per-case critical section used while casting
// votes. Acquisition is retried with backoff a bounded number of times and
// then fails with models.ErrLockNotAcquired.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/example/hotel-refunds/internal/models"
)

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive leases per key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Options tune acquisition.
type Options struct {
	// TTL bounds how long a distributed lease survives a crashed holder.
	TTL time.Duration
	// MaxAttempts is the number of tries before giving up.
	MaxAttempts int
	// Backoff is the first retry delay; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TTL:         10 * time.Second,
		MaxAttempts: 20,
		Backoff:     5 * time.Millisecond,
		MaxBackoff:  200 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = d.Backoff
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = d.MaxBackoff
		if o.MaxBackoff < o.Backoff {
			o.MaxBackoff = o.Backoff
		}
	}
	return o
}

// CaseKey is the lock key guarding one arbitration case.
func CaseKey(caseID string) string {
	return "arbitration_case:" + caseID
}

// retry calls try until it acquires, fails, or attempts run out.
func retry(ctx context.Context, key string, opts Options, try func() (Lease, bool, error)) (Lease, error) {
	delay := opts.Backoff
	for attempt := 1; ; attempt++ {
		lease, ok, err := try()
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}
		if attempt >= opts.MaxAttempts {
			return nil, models.Errorf(models.KindLockNotAcquired, "lock %s still held after %d attempts", key, attempt)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > opts.MaxBackoff {
			delay = opts.MaxBackoff
		}
	}
}

// LocalLocker serializes holders within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
	opts Options
}

// NewLocalLocker returns an in-process locker.
func NewLocalLocker(opts Options) *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{}), opts: opts.withDefaults()}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	return retry(ctx, key, l.opts, func() (Lease, bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, busy := l.held[key]; busy {
			return nil, false, nil
		}
		l.held[key] = struct{}{}
		return &localLease{l: l, key: key}, true, nil
	})
}

type localLease struct {
	l    *LocalLocker
	key  string
	once sync.Once
}

func (lease *localLease) Release(context.Context) error {
	lease.once.Do(func() {
		lease.l.mu.Lock()
		delete(lease.l.held, lease.key)
		lease.l.mu.Unlock()
	})
	return nil
}
