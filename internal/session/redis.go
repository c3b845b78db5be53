package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/transitd/internal/config"
)

// RedisStore keeps sessions in Redis so several instances can serve the
// same conversation. Each save refreshes the key's TTL.
type RedisStore struct {
	client redis.Cmdable
	closer func() error
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the server described by cfg.
func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password.Value(),
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	s := NewRedisStoreWithClient(rdb, cfg.KeyPrefix, ttl)
	s.closer = rdb.Close
	return s
}

// NewRedisStoreWithClient uses an existing client. Close does not close it.
func NewRedisStoreWithClient(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, id string) (*State, bool, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, id, err)
	}
	st, err := decodeState(data)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, st *State) error {
	if st == nil || st.SessionID == "" {
		return ErrInvalidSessionID
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(st.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStoreUnavailable, st.SessionID, err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrStoreUnavailable, id, err)
	}
	return nil
}

// Close implements Store.
func (r *RedisStore) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func encodeState(st *State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encoding session %s: %w", st.SessionID, err)
	}
	return data, nil
}

func decodeState(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if st.SessionID == "" {
		return nil, fmt.Errorf("decoding session: %w", ErrInvalidSessionID)
	}
	return &st, nil
}
