// Package session issues the stable per-client identifiers sent with every
// executor call, so the remote side keeps its per-session scratch database
// across repeated dry runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/logging"
)

// Prefix starts every session id. The executor strips it from table names.
const Prefix = "sess_"

// DefaultTTL is how long an idle session id is kept in Redis.
const DefaultTTL = 24 * time.Hour

const redisKeyPrefix = "vibephp:session:"

// ErrEmptyClientKey is returned when no client key is supplied.
var ErrEmptyClientKey = errors.New("client key is required")

// NewID returns a fresh id of the form sess_<12 hex>.
func NewID() string {
	return Prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Store maps client keys to session ids.
type Store interface {
	// LoadOrStore returns the id stored for key, storing id first if there is none.
	LoadOrStore(ctx context.Context, key, id string) (string, error)
}

// MemoryStore keeps ids for the life of the process.
type MemoryStore struct {
	mu  sync.Mutex
	ids map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]string)}
}

// LoadOrStore implements Store.
func (s *MemoryStore) LoadOrStore(_ context.Context, key, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.ids[key]; ok {
		return existing, nil
	}
	s.ids[key] = id
	return id, nil
}

// RedisStore shares ids between server instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redisURL (redis://[:password@]host:port[/db]).
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// LoadOrStore implements Store. Reads refresh the TTL.
func (s *RedisStore) LoadOrStore(ctx context.Context, key, id string) (string, error) {
	k := redisKey(key)
	created, err := s.client.SetNX(ctx, k, id, s.ttl).Result()
	if err != nil {
		return "", err
	}
	if created {
		return id, nil
	}
	existing, err := s.client.Get(ctx, k).Result()
	if err != nil {
		return "", err
	}
	s.client.Expire(ctx, k, s.ttl)
	return existing, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(clientKey string) string {
	return redisKeyPrefix + clientKey
}

// Manager hands out session ids, falling back to memory when the primary store fails.
type Manager struct {
	store    Store
	fallback *MemoryStore
}

// NewManager creates a Manager over store. A nil store means memory only.
func NewManager(store Store) *Manager {
	fallback := NewMemoryStore()
	if store == nil {
		store = fallback
	}
	return &Manager{store: store, fallback: fallback}
}

// ID returns the session id for clientKey, creating it on first use.
func (m *Manager) ID(ctx context.Context, clientKey string) (string, error) {
	if strings.TrimSpace(clientKey) == "" {
		return "", ErrEmptyClientKey
	}
	id, err := m.store.LoadOrStore(ctx, clientKey, NewID())
	if err == nil {
		return id, nil
	}
	logging.Named("session").Warn("session store unavailable, using memory",
		zap.String("client_key", clientKey),
		zap.Error(err))
	return m.fallback.LoadOrStore(ctx, clientKey, NewID())
}
