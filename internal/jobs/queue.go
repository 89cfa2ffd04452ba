// Package jobs holds the schedulable ingestion jobs: CRUD against the
// record store, target selection through regexp/exclude filters, the Redis
// scheduler boundary, and a thin exec wrapper for the scanner binaries.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/pkg/types"
)

const (
	scheduleSet = "edgewatch:schedule"
	jobPrefix   = "edgewatch:job:"
)

type redisQueue struct {
	client *redis.Client
	cfg    config.RedisConfig
}

// NewRedisQueue connects to Redis and returns the scheduler boundary. The
// console only writes and lists schedule entries; the external timer
// service pops them.
func NewRedisQueue(cfg config.RedisConfig) (core.JobQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisQueue{
		client: client,
		cfg:    cfg,
	}, nil
}

func (q *redisQueue) Schedule(ctx context.Context, job *types.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, jobPrefix+job.Name, data, 0)
	pipe.ZAdd(ctx, scheduleSet, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: job.Name,
	})

	_, err = pipe.Exec(ctx)
	return err
}

func (q *redisQueue) Unschedule(ctx context.Context, name string) error {
	pipe := q.client.Pipeline()
	pipe.ZRem(ctx, scheduleSet, name)
	pipe.Del(ctx, jobPrefix+name)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *redisQueue) Pending(ctx context.Context) ([]types.Job, error) {
	names, err := q.client.ZRange(ctx, scheduleSet, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule: %w", err)
	}

	jobs := make([]types.Job, 0, len(names))
	for _, name := range names {
		data, err := q.client.Get(ctx, jobPrefix+name).Result()
		if err != nil {
			// Entry removed between ZRange and Get.
			continue
		}
		var job types.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
