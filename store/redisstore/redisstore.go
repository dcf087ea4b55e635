// Package redisstore implements the keyed state store on Redis. Request
// documents live as RedisJSON values under "request:<id>" with atomic array
// appends on the ".responses" path; mailboxes and the site key are plain
// strings.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/store"
)

type (
	// Options configures the Redis-backed store.
	Options struct {
		// Redis is the Redis connection. Required. The server must support
		// the RedisJSON command family.
		Redis *redis.Client
	}

	// Store is the Redis-backed store implementation.
	Store struct {
		redis *redis.Client
	}
)

// New constructs a Redis-backed store. The Redis field in opts is required.
func New(opts Options) (*Store, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &Store{redis: opts.Redis}, nil
}

// CreateRequest writes the full request document.
func (s *Store) CreateRequest(ctx context.Context, state *api.RequestState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal request state: %w", err)
	}
	key := store.RequestKey(state.RequestID)
	if err := s.redis.JSONSet(ctx, key, "$", string(raw)).Err(); err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	return nil
}

// AppendResponse atomically appends one response to the document's
// ".responses" array.
func (s *Store) AppendResponse(ctx context.Context, id uuid.UUID, r *api.Response) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	key := store.RequestKey(id)
	lengths, err := s.redis.JSONArrAppend(ctx, key, "$.responses", string(raw)).Result()
	if err != nil {
		if isMissingKey(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("append response to %s: %w", key, err)
	}
	if len(lengths) == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Responses reads the requested window of the document's responses.
func (s *Store) Responses(ctx context.Context, id uuid.UUID, index, size int) ([]*api.Response, error) {
	key := store.RequestKey(id)
	raw, err := s.redis.JSONGet(ctx, key, "$.responses").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || isMissingKey(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("read responses of %s: %w", key, err)
	}
	// "$" paths return an array of matches; the single match is the array.
	var matches [][]*api.Response
	if err := json.Unmarshal([]byte(raw), &matches); err != nil {
		return nil, fmt.Errorf("decode responses of %s: %w", key, err)
	}
	if len(matches) == 0 {
		return nil, store.ErrNotFound
	}
	return store.SliceResponses(matches[0], index, size), nil
}

// Put stores a plain key.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return s.redis.Set(ctx, key, value, 0).Err()
}

// Get reads a plain key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// isMissingKey matches the RedisJSON error raised for operations on absent
// documents.
func isMissingKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}
