package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"inquest/internal/metrics"
)

// RedisStore is the multi-instance backend: sessions live in Redis under a
// TTL, with a small local cache in front for hot conversations. The cache
// is an optimization only; Redis is always the source of truth on miss.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.Mutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
	maxCached   int
}

// NewRedisStore connects to Redis and verifies the connection. The Redis
// password is read from REDIS_PASSWORD.
func NewRedisStore(addr string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client:      client,
		logger:      logger,
		ttl:         ttl,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxCached:   10000,
	}, nil
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) key(id string) string { return "inquest:session:" + id }

func (r *RedisStore) Create(ctx context.Context, id string) (*Session, error) {
	s := newSession(id, r.ttl)
	if err := r.save(ctx, s); err != nil {
		return nil, err
	}
	r.cache(s)
	metrics.SessionsCreated.Inc()
	r.logger.Info("Created session", zap.String("session_id", s.ID))
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.localCache[id]; ok {
		r.cacheAccess[id] = time.Now()
		cp := *s
		r.mu.Unlock()
		metrics.SessionCacheHits.Inc()
		if cp.IsExpired() {
			_ = r.Delete(ctx, id)
			return nil, ErrExpired
		}
		return &cp, nil
	}
	r.mu.Unlock()
	metrics.SessionCacheMisses.Inc()

	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.IsExpired() {
		_ = r.Delete(ctx, id)
		return nil, ErrExpired
	}

	r.cache(&s)
	cp := s
	return &cp, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	if err := r.save(ctx, s); err != nil {
		return err
	}
	r.cache(s)
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	r.mu.Lock()
	delete(r.localCache, id)
	delete(r.cacheAccess, id)
	metrics.SessionCacheSize.Set(float64(len(r.localCache)))
	r.mu.Unlock()
	return nil
}

func (r *RedisStore) save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := r.ttl
	if !s.ExpiresAt.IsZero() {
		if until := time.Until(s.ExpiresAt); until > 0 {
			ttl = until
		}
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) cache(s *Session) {
	cp := *s
	r.mu.Lock()
	r.localCache[s.ID] = &cp
	r.cacheAccess[s.ID] = time.Now()
	r.evictLocked()
	metrics.SessionCacheSize.Set(float64(len(r.localCache)))
	r.mu.Unlock()
}

// evictLocked drops the least recently used entries once the cache is over
// capacity. Caller holds r.mu.
func (r *RedisStore) evictLocked() {
	for len(r.localCache) > r.maxCached {
		oldestID := ""
		var oldest time.Time
		for id, at := range r.cacheAccess {
			if oldestID == "" || at.Before(oldest) {
				oldestID, oldest = id, at
			}
		}
		if oldestID == "" {
			return
		}
		delete(r.localCache, oldestID)
		delete(r.cacheAccess, oldestID)
		metrics.SessionCacheEvictions.Inc()
	}
}
