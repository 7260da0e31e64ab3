package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"northstar-hq/polaris/pkg/state"
)

const backendRedis = "redis"

// Redis key namespaces. Per-key TTLs keep the store self-cleaning; the
// transitions list is additionally length-bounded.
const (
	redisKeyPrefix        = "apikey:"
	redisQuotaPrefix      = "quota:"
	redisDecisionPrefix   = "decision:"
	redisTransitionPrefix = "transitions:"

	redisKeyIndex           = "apikeys"
	redisProviderIndexScope = "apikeys:provider:"
)

// Default retention for the Redis backing.
const (
	DefaultKeyTTL            = 7 * 24 * time.Hour
	DefaultDecisionTTL       = 24 * time.Hour
	DefaultTransitionsPerKey = 100
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password authenticates the connection, empty for none.
	Password string `yaml:"password"`

	// DB selects the logical database.
	DB int `yaml:"db"`

	// KeyTTL applies to key and quota entries. Zero means the default.
	KeyTTL time.Duration `yaml:"key_ttl"`

	// DecisionTTL applies to routing decisions. Zero means the default.
	DecisionTTL time.Duration `yaml:"decision_ttl"`

	// TransitionsPerKey bounds each key's transition list. Zero means the
	// default.
	TransitionsPerKey int `yaml:"transitions_per_key"`
}

func (c *RedisConfig) applyDefaults() {
	if c.KeyTTL <= 0 {
		c.KeyTTL = DefaultKeyTTL
	}
	if c.DecisionTTL <= 0 {
		c.DecisionTTL = DefaultDecisionTTL
	}
	if c.TransitionsPerKey <= 0 {
		c.TransitionsPerKey = DefaultTransitionsPerKey
	}
}

// RedisStore persists entities in Redis with per-entry TTLs. Key lookups are
// O(1) on the id namespaces; list and query operations go through the id
// index sets, which ReconcileOrphans keeps aligned with the live entries.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	cfg.applyDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, state.NewStoreError(backendRedis, "connect", err)
	}
	return &RedisStore{client: client, cfg: cfg}, nil
}

// NewRedisStoreWithClient wraps an existing client (used by tests to point
// at miniredis).
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	cfg.applyDefaults()
	return &RedisStore{client: client, cfg: cfg}
}

// SaveKey upserts the key entry and registers it in the id indexes.
func (s *RedisStore) SaveKey(ctx context.Context, key *state.Key) error {
	payload, err := json.Marshal(key)
	if err != nil {
		return state.NewStoreError(backendRedis, "save_key", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key.ID, payload, s.cfg.KeyTTL)
	pipe.SAdd(ctx, redisKeyIndex, key.ID)
	pipe.SAdd(ctx, redisProviderIndexScope+key.ProviderID, key.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return state.NewStoreError(backendRedis, "save_key", err)
	}
	return nil
}

// GetKey returns the key or state.ErrNotFound.
func (s *RedisStore) GetKey(ctx context.Context, id string) (*state.Key, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, state.NewStoreError(backendRedis, "get_key", err)
	}

	var k state.Key
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, state.NewStoreError(backendRedis, "get_key", err)
	}
	return &k, nil
}

// ListKeys returns keys for the provider via the index sets, skipping
// entries whose TTL has expired since indexing.
func (s *RedisStore) ListKeys(ctx context.Context, providerID string) ([]*state.Key, error) {
	index := redisKeyIndex
	if providerID != "" {
		index = redisProviderIndexScope + providerID
	}
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, state.NewStoreError(backendRedis, "list_keys", err)
	}
	keys, err := s.fetchKeys(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortKeys(keys)
	return keys, nil
}

func (s *RedisStore) fetchKeys(ctx context.Context, ids []string) ([]*state.Key, error) {
	if len(ids) == 0 {
		return []*state.Key{}, nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = redisKeyPrefix + id
	}
	values, err := s.client.MGet(ctx, fields...).Result()
	if err != nil {
		return nil, state.NewStoreError(backendRedis, "list_keys", err)
	}

	keys := make([]*state.Key, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired since it was indexed; reconciliation cleans the
			// index member up.
			continue
		}
		var k state.Key
		if err := json.Unmarshal([]byte(raw), &k); err != nil {
			return nil, state.NewStoreError(backendRedis, "list_keys", err)
		}
		keys = append(keys, &k)
	}
	return keys, nil
}

// SaveQuotaState upserts the quota entry for the key.
func (s *RedisStore) SaveQuotaState(ctx context.Context, qs *state.QuotaState) error {
	payload, err := json.Marshal(qs)
	if err != nil {
		return state.NewStoreError(backendRedis, "save_quota_state", err)
	}
	if err := s.client.Set(ctx, redisQuotaPrefix+qs.KeyID, payload, s.cfg.KeyTTL).Err(); err != nil {
		return state.NewStoreError(backendRedis, "save_quota_state", err)
	}
	return nil
}

// GetQuotaState returns the quota state for the key or state.ErrNotFound.
func (s *RedisStore) GetQuotaState(ctx context.Context, keyID string) (*state.QuotaState, error) {
	raw, err := s.client.Get(ctx, redisQuotaPrefix+keyID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, state.NewStoreError(backendRedis, "get_quota_state", err)
	}

	var qs state.QuotaState
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, state.NewStoreError(backendRedis, "get_quota_state", err)
	}
	return &qs, nil
}

// SaveRoutingDecision writes the decision under its correlation id with the
// decision TTL.
func (s *RedisStore) SaveRoutingDecision(ctx context.Context, d *state.RoutingDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return state.NewStoreError(backendRedis, "save_routing_decision", err)
	}
	id := d.CorrelationID
	if id == "" {
		id = d.ID
	}
	if err := s.client.Set(ctx, redisDecisionPrefix+id, payload, s.cfg.DecisionTTL).Err(); err != nil {
		return state.NewStoreError(backendRedis, "save_routing_decision", err)
	}
	return nil
}

// SaveStateTransition pushes onto the key's bounded transition list.
func (s *RedisStore) SaveStateTransition(ctx context.Context, tr *state.StateTransition) error {
	payload, err := json.Marshal(tr)
	if err != nil {
		return state.NewStoreError(backendRedis, "save_state_transition", err)
	}

	listKey := redisTransitionPrefix + tr.EntityID
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, listKey, payload)
	pipe.LTrim(ctx, listKey, 0, int64(s.cfg.TransitionsPerKey-1))
	pipe.Expire(ctx, listKey, s.cfg.KeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return state.NewStoreError(backendRedis, "save_state_transition", err)
	}
	return nil
}

// QueryState scans the relevant namespace and filters client side. Redis is
// the live operational backing; heavyweight audit analysis belongs on the
// SQLite backing.
func (s *RedisStore) QueryState(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	switch q.EntityType {
	case state.EntityKey:
		return s.queryKeys(ctx, q)
	case state.EntityQuota:
		return s.queryQuota(ctx, q)
	case state.EntityDecision:
		return s.queryDecisions(ctx, q)
	case state.EntityTransition:
		return s.queryTransitions(ctx, q)
	default:
		return nil, state.NewStoreError(backendRedis, "query_state", errUnknownEntityType(q.EntityType))
	}
}

func (s *RedisStore) queryKeys(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	keys, err := s.ListKeys(ctx, q.ProviderID)
	if err != nil {
		return nil, err
	}
	matched := keys[:0]
	for _, k := range keys {
		if matchKey(k, q) {
			matched = append(matched, k)
		}
	}
	return &state.QueryResult{Keys: paginate(matched, q.Offset, q.Limit)}, nil
}

func (s *RedisStore) queryQuota(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	var matched []*state.QuotaState
	err := s.scanNamespace(ctx, redisQuotaPrefix+"*", func(raw []byte) error {
		var qs state.QuotaState
		if err := json.Unmarshal(raw, &qs); err != nil {
			return err
		}
		if matchQuota(&qs, q) {
			matched = append(matched, &qs)
		}
		return nil
	})
	if err != nil {
		return nil, state.NewStoreError(backendRedis, "query_state", err)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
		}
		return matched[i].KeyID < matched[j].KeyID
	})
	return &state.QueryResult{QuotaStates: paginate(matched, q.Offset, q.Limit)}, nil
}

func (s *RedisStore) queryDecisions(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	var matched []*state.RoutingDecision
	err := s.scanNamespace(ctx, redisDecisionPrefix+"*", func(raw []byte) error {
		var d state.RoutingDecision
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		if matchDecision(&d, q) {
			matched = append(matched, &d)
		}
		return nil
	})
	if err != nil {
		return nil, state.NewStoreError(backendRedis, "query_state", err)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID < matched[j].ID
	})
	return &state.QueryResult{Decisions: paginate(matched, q.Offset, q.Limit)}, nil
}

func (s *RedisStore) queryTransitions(ctx context.Context, q state.Query) (*state.QueryResult, error) {
	var lists []string
	if q.KeyID != "" {
		lists = []string{redisTransitionPrefix + q.KeyID}
	} else {
		var err error
		lists, err = s.scanKeys(ctx, redisTransitionPrefix+"*")
		if err != nil {
			return nil, state.NewStoreError(backendRedis, "query_state", err)
		}
	}

	var matched []*state.StateTransition
	for _, listKey := range lists {
		entries, err := s.client.LRange(ctx, listKey, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, state.NewStoreError(backendRedis, "query_state", err)
		}
		for _, raw := range entries {
			var tr state.StateTransition
			if err := json.Unmarshal([]byte(raw), &tr); err != nil {
				return nil, state.NewStoreError(backendRedis, "query_state", err)
			}
			if matchTransition(&tr, q) {
				matched = append(matched, &tr)
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID < matched[j].ID
	})
	return &state.QueryResult{Transitions: paginate(matched, q.Offset, q.Limit)}, nil
}

func (s *RedisStore) scanKeys(ctx context.Context, match string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (s *RedisStore) scanNamespace(ctx context.Context, match string, visit func(raw []byte) error) error {
	keys, err := s.scanKeys(ctx, match)
	if err != nil {
		return err
	}
	for _, k := range keys {
		raw, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if err := visit(raw); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileOrphans removes index members whose key entry expired and drops
// quota and transition entries left behind by expired keys. Returns the
// number of removals. Run periodically by the recovery task.
func (s *RedisStore) ReconcileOrphans(ctx context.Context) (int, error) {
	removed := 0

	ids, err := s.client.SMembers(ctx, redisKeyIndex).Result()
	if err != nil {
		return 0, state.NewStoreError(backendRedis, "reconcile_orphans", err)
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, redisKeyPrefix+id).Result()
		if err != nil {
			return removed, state.NewStoreError(backendRedis, "reconcile_orphans", err)
		}
		if exists > 0 {
			live[id] = true
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.SRem(ctx, redisKeyIndex, id)
		pipe.Del(ctx, redisQuotaPrefix+id, redisTransitionPrefix+id)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, state.NewStoreError(backendRedis, "reconcile_orphans", err)
		}
		removed++
	}

	providerSets, err := s.scanKeys(ctx, redisProviderIndexScope+"*")
	if err != nil {
		return removed, state.NewStoreError(backendRedis, "reconcile_orphans", err)
	}
	for _, set := range providerSets {
		members, err := s.client.SMembers(ctx, set).Result()
		if err != nil {
			return removed, state.NewStoreError(backendRedis, "reconcile_orphans", err)
		}
		for _, id := range members {
			if live[id] {
				continue
			}
			if err := s.client.SRem(ctx, set, id).Err(); err != nil {
				return removed, state.NewStoreError(backendRedis, "reconcile_orphans", err)
			}
			removed++
		}
	}
	return removed, nil
}

// Ping verifies the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return state.NewStoreError(backendRedis, "ping", err)
	}
	return nil
}

// Close shuts the client down.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
