package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "mnemo:session:"

// RedisStateStore keeps session state in Redis as JSON. Commits use
// WATCH/MULTI so a concurrent writer turns into ErrVersionConflict.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStateStore(ctx context.Context, storeURL string, ttl time.Duration) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, fmt.Errorf("parse sessions store url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStateStore{client: client, ttl: ttl}, nil
}

func (s *RedisStateStore) Load(ctx context.Context, sessionID string) (State, error) {
	st, err := s.get(ctx, s.client, sessionID)
	if err != nil {
		return State{}, err
	}
	return st, nil
}

func (s *RedisStateStore) Commit(ctx context.Context, st State, expectedVersion int64) error {
	key := redisKeyPrefix + st.SessionID
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, st.SessionID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}
		next := st.Clone()
		next.Version = expectedVersion + 1
		next.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStateStore) get(ctx context.Context, c getter, sessionID string) (State, error) {
	raw, err := c.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{SessionID: sessionID}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load session state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode session state: %w", err)
	}
	st.SessionID = sessionID
	return st, nil
}
