package automation

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PendingStore holds the set of session ids awaiting a batched index
// pass. The default, in-process implementation matches the original's
// single-process HashSet; RedisPendingStore lets several
// automation-manager processes share the same debounce state.
type PendingStore interface {
	Add(ctx context.Context, sessionID string) error
	DrainAll(ctx context.Context) ([]string, error)
}

type inProcessPendingStore struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func newInProcessPendingStore() *inProcessPendingStore {
	return &inProcessPendingStore{pending: map[string]struct{}{}}
}

func (s *inProcessPendingStore) Add(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = struct{}{}
	return nil
}

func (s *inProcessPendingStore) DrainAll(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, id)
		delete(s.pending, id)
	}
	return out, nil
}

// RedisPendingStore backs the pending-session set with a Redis set, so
// the batch a given process flushes may include sessions another
// process's event loop enqueued — the SPEC_FULL.md domain-stack's
// optional multi-process coordination path for the automation manager.
type RedisPendingStore struct {
	client goredis.UniversalClient
	key    string
}

// NewRedisPendingStore builds a Redis-backed store. addr empty means
// "not configured"; callers should fall back to the in-process store
// in that case (NewManager does this automatically when store is nil).
func NewRedisPendingStore(addr, key string) (*RedisPendingStore, error) {
	if addr == "" {
		return nil, nil
	}
	if key == "" {
		key = "cortexmem:automation:pending_sessions"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisPendingStore{client: client, key: key}, nil
}

// Add is nil-receiver-safe: a *RedisPendingStore obtained from
// NewRedisPendingStore with an empty addr is nil, and is still usable
// as a no-op PendingStore (NewManager then falls back to the
// in-process store only when it receives a literal nil interface, not
// a nil pointer wrapped in one, so the methods themselves must tolerate
// a nil receiver too).
func (s *RedisPendingStore) Add(ctx context.Context, sessionID string) error {
	if s == nil {
		return nil
	}
	return s.client.SAdd(ctx, s.key, sessionID).Err()
}

// DrainAll reads every member then deletes the key. This isn't
// transactional against a concurrent Add from another process — a
// session added between the read and the delete can be silently
// dropped from this batch — acceptable here since a dropped session
// simply waits for its own process's next MessageAdded event to
// re-enqueue it.
func (s *RedisPendingStore) DrainAll(ctx context.Context) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("failed to clear pending-session set")
	}
	return members, nil
}

func (s *RedisPendingStore) Close() error {
	return s.client.Close()
}
