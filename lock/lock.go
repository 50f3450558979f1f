// Package lock keeps overlapping triggers of the same job from running twice.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLocked means another holder is running the job right now.
var ErrLocked = errors.New("lock is held by another run")

type Locker interface {
	// WithLock runs fn while holding name, or returns ErrLocked without waiting.
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// RedisLocker is a Redlock mutex shared by every instance pointing at the same Redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedisLocker(client *redis.Client, expiry time.Duration) *RedisLocker {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex("consensusbot:lock:"+name,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		var takenVal redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.As(err, &takenVal) {
			return ErrLocked
		}
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			logging.Log.Warnf("LOCK: failed to release %s: %v", name, err)
		}
	}()
	return fn(ctx)
}

// LocalLocker only excludes runs within this process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]bool{}}
}

func (l *LocalLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[name] {
		l.mu.Unlock()
		return ErrLocked
	}
	l.held[name] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
