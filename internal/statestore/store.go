// Package statestore persists pipeline state snapshots to Redis so a later
// request can re-enter the pipeline at an intermediate stage without redoing
// extraction.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"restaurant-recommender/internal/common/errors"
)

const keyPrefix = "pipeline:state:"

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Save overwrites the snapshot for requestID. Each save refreshes the TTL.
func (s *Store) Save(ctx context.Context, requestID string, state interface{}) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.NewStateStoreFailedError(fmt.Errorf("marshal state: %w", err))
	}

	if err := s.client.Set(ctx, keyPrefix+requestID, data, s.ttl).Err(); err != nil {
		return errors.NewStateStoreFailedError(err)
	}
	return nil
}

// Load reads the snapshot for requestID into dst.
func (s *Store) Load(ctx context.Context, requestID string, dst interface{}) error {
	data, err := s.client.Get(ctx, keyPrefix+requestID).Result()
	if err == redis.Nil {
		return errors.NewStateNotFoundError(requestID)
	}
	if err != nil {
		return errors.NewStateStoreFailedError(err)
	}

	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return errors.NewStateStoreFailedError(fmt.Errorf("unmarshal state: %w", err))
	}
	return nil
}

// Delete removes the snapshot for requestID, if any.
func (s *Store) Delete(ctx context.Context, requestID string) error {
	if err := s.client.Del(ctx, keyPrefix+requestID).Err(); err != nil {
		return errors.NewStateStoreFailedError(err)
	}
	return nil
}
