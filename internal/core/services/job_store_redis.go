// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/redis/go-redis/v9"
)

const (
	defaultJobKeyPrefix   = "recipe-job:"
	maxTransitionAttempts = 5
)

// RedisJobStore shares jobs between replicas. Each job is one JSON value
// with the job TTL; transitions run in a WATCH/MULTI transaction and retry
// when another writer touched the key first.
type RedisJobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// valueGetter is the read side shared by *redis.Client and *redis.Tx.
type valueGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func NewRedisJobStore(config cloud.Jobs) (*RedisJobStore, error) {
	if config.RedisAddr == "" {
		return nil, errors.New("jobs.redis_addr is required for the redis job store")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        config.RedisAddr,
		Password:    config.RedisPassword,
		DB:          config.RedisDB,
		DialTimeout: 5 * time.Second,
	})
	return NewRedisJobStoreWithClient(client, config), nil
}

func NewRedisJobStoreWithClient(client *redis.Client, config cloud.Jobs) *RedisJobStore {
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = defaultJobKeyPrefix
	}
	return &RedisJobStore{client: client, prefix: prefix, ttl: jobTTL(config)}
}

func (r *RedisJobStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisJobStore) Create(ctx context.Context, job *model.AnalysisJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	created, err := r.client.SetNX(ctx, r.key(job.ID), raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis create job %s: %w", job.ID, err)
	}
	if !created {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

func (r *RedisJobStore) Get(ctx context.Context, id string) (*model.AnalysisJob, error) {
	return r.get(ctx, r.client, id)
}

func (r *RedisJobStore) get(ctx context.Context, getter valueGetter, id string) (*model.AnalysisJob, error) {
	raw, err := getter.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get job %s: %w", id, err)
	}
	job := &model.AnalysisJob{}
	if err := json.Unmarshal(raw, job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (r *RedisJobStore) Transition(ctx context.Context, id string, next model.JobStatus, result *model.Recipe, errMsg string) (*model.AnalysisJob, error) {
	key := r.key(id)
	var updated *model.AnalysisJob

	txf := func(tx *redis.Tx) error {
		current, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		updated, err = current.Transition(next, result, errMsg)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("job %s: transition to %s lost %d races", id, next, maxTransitionAttempts)
}

func (r *RedisJobStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisJobStore) Close() error {
	return r.client.Close()
}
