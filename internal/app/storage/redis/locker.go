// Package redis provides Redis-backed coordination: a distributed lock and a
// pub/sub relay that fans realtime events out across instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

var (
	// ErrLockHeld is returned when another holder owns the lock.
	ErrLockHeld = errors.New("lock is held by another process")
	// ErrEmptyLockKey is returned for a blank lock key.
	ErrEmptyLockKey = errors.New("lock key cannot be empty")
	// ErrLockLost is returned when the lock could not be extended while fn
	// was running. fn's context is cancelled at that point.
	ErrLockLost = errors.New("lock lost before the critical section finished")
)

// LockOptions tunes lock acquisition.
type LockOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultLockOptions suits long batch jobs that should not queue up behind
// each other.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     5 * time.Minute,
		Tries:      1,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Locker serializes critical sections across instances using RedLock.
type Locker struct {
	rs     *redsync.Redsync
	prefix string
	opts   LockOptions
}

// NewLocker builds a Locker on client. Keys are namespaced with prefix.
func NewLocker(client *goredis.Client, prefix string, opts LockOptions) *Locker {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultLockOptions().Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = 1
	}
	return &Locker{
		rs:     redsync.New(redsyncgoredis.NewPool(client)),
		prefix: prefix,
		opts:   opts,
	}
}

// WithLock runs fn while holding key. It returns ErrLockHeld without running
// fn if the lock could not be acquired. The lock is extended every third of
// its expiry while fn runs; if an extension fails fn's context is cancelled
// and the result wraps ErrLockLost.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyLockKey
	}

	mutex := l.rs.NewMutex(l.prefix+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s: %w: %v", key, ErrLockHeld, err)
	}

	fnCtx, cancel := context.WithCancel(ctx)
	lost := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(fnCtx, mutex, cancel, lost)
	}()

	fnErr := fn(fnCtx)
	cancel()
	<-done

	select {
	case <-lost:
		_, _ = mutex.UnlockContext(context.WithoutCancel(ctx))
		if fnErr != nil {
			return fmt.Errorf("%s: %w: %v", key, ErrLockLost, fnErr)
		}
		return fmt.Errorf("%s: %w", key, ErrLockLost)
	default:
	}

	// the lock may have expired during a long fn; that is reported but does
	// not mask fn's own result
	if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil || !ok {
		if fnErr != nil {
			return fnErr
		}
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return fmt.Errorf("release lock %s: lock expired before release", key)
	}
	return fnErr
}

// keepAlive extends mutex until ctx is done. On a failed extension it closes
// lost and cancels the critical section.
func (l *Locker) keepAlive(ctx context.Context, mutex *redsync.Mutex, cancel context.CancelFunc, lost chan<- struct{}) {
	ticker := time.NewTicker(l.opts.Expiry / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := mutex.ExtendContext(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				close(lost)
				cancel()
				return
			}
		}
	}
}
