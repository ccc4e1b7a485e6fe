package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists session records in Redis. It is purely a storage
// backend: the registry above already serializes every call through its
// own mutex, so this type never does distributed locking or coordination,
// only get/set/scan against a single key namespace.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore against addr/db. ttl, if positive, is
// applied to every saved record so stale sessions expire on their own.
func NewRedisStore(addr string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: connect to redis %s: %w", addr, err)
	}

	return &RedisStore{client: client, prefix: "orchestrator:session:", ttl: ttl}, nil
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) Load(userID string) (Info, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		return Info{}, false
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, false
	}
	return info, true
}

func (s *RedisStore) Save(info Info) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	s.client.Set(ctx, s.key(info.UserID), raw, s.ttl)
}

func (s *RedisStore) Delete(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.client.Del(ctx, s.key(userID))
}

func (s *RedisStore) All() []Info {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []Info
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var info Info
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}
