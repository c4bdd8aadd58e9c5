package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/pkg/config"
)

// Queue is a Redis list: producers LPUSH, workers BRPOP.
type Queue struct {
	rdb *redis.Client
	key string
	log *zap.SugaredLogger
}

func NewRedisClient(c config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	})
}

func NewQueue(rdb *redis.Client, key string, log *zap.SugaredLogger) *Queue {
	return &Queue{rdb: rdb, key: key, log: log}
}

func (q *Queue) Enqueue(ctx context.Context, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	values := make([]any, 0, len(jobs))
	for _, j := range jobs {
		if j.EnqueuedAt.IsZero() {
			j.EnqueuedAt = time.Now().UTC()
		}
		s, err := j.encode()
		if err != nil {
			return err
		}
		values = append(values, s)
	}
	if err := q.rdb.LPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notifications: %w", err)
	}
	return nil
}

// Dequeue blocks up to wait for the next job. It returns nil, nil on timeout.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, wait, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue notification: %w", err)
	}
	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}
	return decodeJob(res[1])
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) Close() error { return q.rdb.Close() }
