package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/standardbeagle/overrider/internal/overrider"
)

const redisPrefix = "overrider:"

// RedisStore keeps records as JSON strings. Each scope has an index set of
// its record keys so List avoids SCAN.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and pings it. A zero ttl keeps records
// forever.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: redisPrefix, ttl: ttl}
}

func (s *RedisStore) key(scope, key string) string {
	return s.prefix + scope + ":" + HashKey(key)
}

func (s *RedisStore) index(scope string) string {
	return s.prefix + "index:" + scope
}

func (s *RedisStore) Get(ctx context.Context, scope, url string) (*Record, error) {
	key, err := ScopeKey(scope, url)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.key(scope, key))
}

func (s *RedisStore) load(ctx context.Context, rkey string) (*Record, error) {
	data, err := s.client.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rkey)
	}
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal overrides: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, scope, url string, set overrider.OverrideSet) (*Record, error) {
	key, err := ScopeKey(scope, url)
	if err != nil {
		return nil, err
	}
	rkey := s.key(scope, key)

	prev, err := s.load(ctx, rkey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	rec := newRecord(scope, key, set, prev)
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal overrides: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, rkey, data, s.ttl)
		p.SAdd(ctx, s.index(scope), rkey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save overrides: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, scope, url string) error {
	key, err := ScopeKey(scope, url)
	if err != nil {
		return err
	}
	rkey := s.key(scope, key)

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, rkey)
		p.SRem(ctx, s.index(scope), rkey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete overrides: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rkey)
	}
	return nil
}

// List returns every record in scope, ordered by key. Index entries whose
// record expired are pruned.
func (s *RedisStore) List(ctx context.Context, scope string) ([]*Record, error) {
	if _, err := ScopeKey(scope, ""); err != nil {
		return nil, err
	}
	members, err := s.client.SMembers(ctx, s.index(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}

	records := make([]*Record, 0, len(members))
	for _, rkey := range members {
		rec, err := s.load(ctx, rkey)
		if errors.Is(err, ErrNotFound) {
			s.client.SRem(ctx, s.index(scope), rkey)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// Ping checks that redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
