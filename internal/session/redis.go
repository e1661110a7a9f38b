package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// DefaultKeyPrefix namespaces session keys in Redis.
const DefaultKeyPrefix = "jobcrawler:session:"

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore shares sessions between crawler processes. Keys expire with the session TTL.
type RedisStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
	clock  crawler.Clock
	logger *zap.Logger
}

// NewRedisStore connects to cfg.Addr.
func NewRedisStore(cfg RedisConfig, clock crawler.Clock, logger *zap.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg, clock, logger), nil
}

// NewRedisStoreWithClient builds a store around an existing client (tests).
func NewRedisStoreWithClient(client redisClient, cfg RedisConfig, clock crawler.Clock, logger *zap.Logger) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL, clock: clock, logger: logger}
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Save stores the session JSON with the session TTL.
func (s *RedisStore) Save(ctx context.Context, domain string, cookies []crawler.Cookie) error {
	key := domainKey(domain)
	if key == "" {
		return fmt.Errorf("session domain is required")
	}
	payload, err := json.Marshal(newSession(domain, cookies, s.clock.Now(), s.ttl))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Load returns the live cookies for domain. Missing keys, decode failures and
// Redis errors all yield an empty set.
func (s *RedisStore) Load(ctx context.Context, domain string) []crawler.Cookie {
	key := domainKey(domain)
	if key == "" {
		return []crawler.Cookie{}
	}
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("redis session load failed", zap.String("domain", domain), zap.Error(err))
		}
		return []crawler.Cookie{}
	}
	var sess crawler.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		s.logger.Warn("redis session corrupt", zap.String("domain", domain), zap.Error(err))
		return []crawler.Cookie{}
	}
	return liveCookies(sess, s.clock.Now())
}
