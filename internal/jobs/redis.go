package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/capforge/api/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "capforge:job:"
	redisMaxAttempts = 5
)

// RedisStore keeps jobs as JSON records in Redis so any API replica can answer
// a poll. Every write refreshes the record's TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store. ttl <= 0 keeps records forever.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func redisKey(id uuid.UUID) string {
	return redisKeyPrefix + id.String()
}

func (s *RedisStore) expiry() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	return s.ttl
}

// Create stores a new running job.
func (s *RedisStore) Create(ctx context.Context, in NewJob) (*models.Job, error) {
	j := newJob(in, s.now())
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	ok, err := s.client.SetNX(ctx, redisKey(j.ID), data, s.expiry()).Result()
	if err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("store job: id %s already exists", j.ID)
	}
	return j, nil
}

// Update merges p into the job inside a WATCH/MULTI transaction, retrying
// when another writer touched the record first.
func (s *RedisStore) Update(ctx context.Context, id uuid.UUID, p Patch) (*models.Job, error) {
	key := redisKey(id)
	var updated *models.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var j models.Job
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		p.apply(&j, s.now())
		out, err := json.Marshal(&j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.expiry())
			return nil
		})
		if err == nil {
			updated = &j
		}
		return err
	}

	for attempt := 0; attempt < redisMaxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update job %s: too much contention", id)
}

// Get returns the stored job.
func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	data, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var j models.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}
