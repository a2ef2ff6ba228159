package enrichment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/campus-notes/utils/cache"
)

// NoteLocker hands out a short-lived exclusive hold on a note. ok=false means some
// other worker holds it; a non-nil error means the lock backend is unavailable.
type NoteLocker interface {
	TryLock(ctx context.Context, noteID uint, ttl time.Duration) (unlock func(), ok bool, err error)
}

// LocalLocker serialises runs inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[uint]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[uint]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, noteID uint, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[noteID]; busy {
		return nil, false, nil
	}
	l.held[noteID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, noteID)
			l.mu.Unlock()
		})
	}, true, nil
}

// RedisLocker shares the hold across API replicas.
type RedisLocker struct {
	cache *cache.RedisCache
}

func NewRedisLocker(c *cache.RedisCache) *RedisLocker {
	return &RedisLocker{cache: c}
}

func lockKey(noteID uint) string {
	return fmt.Sprintf("note:enrich:lock:%d", noteID)
}

func (l *RedisLocker) TryLock(ctx context.Context, noteID uint, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	key := lockKey(noteID)
	ok, err := l.cache.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := l.cache.ReleaseLock(ctx, key, token); err != nil {
			log.Warnw("[ENRICH] failed to release note lock", "note_id", noteID, "error", err)
		}
	}, true, nil
}

// NewLocker picks the Redis locker when a cache is configured.
func NewLocker(c *cache.RedisCache) NoteLocker {
	if c == nil {
		return NewLocalLocker()
	}
	return NewRedisLocker(c)
}
