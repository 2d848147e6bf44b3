package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists cart state per session.
type Store interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Save(ctx context.Context, sessionID string, st State) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisStore keeps carts as JSON documents with a sliding TTL.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func (s *RedisStore) key(sessionID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "cart:"
	}
	return prefix + sessionID
}

func (s *RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

// Load returns the stored cart, or an empty one when the session has none.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (State, error) {
	data, err := s.Client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{Items: []Item{}}, nil
		}
		return State{}, fmt.Errorf("load cart: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode cart: %w", err)
	}
	if st.Items == nil {
		st.Items = []Item{}
	}
	return st, nil
}

// Save writes the cart and refreshes its expiry.
func (s *RedisStore) Save(ctx context.Context, sessionID string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.Client.Set(ctx, s.key(sessionID), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// Delete removes the cart.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.Client.Del(ctx, s.key(sessionID)).Err()
}
