package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nebulus/gantry/internal/platform/envutil"
	"github.com/nebulus/gantry/internal/platform/logger"
)

const redisQueueKey = "gantry:jobs"

type redisQueue struct {
	rdb *redis.Client
	log *logger.Logger
}

// NewRedisQueue connects to REDIS_ADDR and verifies the connection before
// returning.
func NewRedisQueue(log *logger.Logger) (Queue, error) {
	addr := envutil.Str("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: envutil.Str("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("redis job queue ready", "addr", addr)
	return &redisQueue{rdb: rdb, log: log.With("service", "RedisQueue")}, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(stamp(job))
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.rdb.LPush(ctx, redisQueueKey, raw).Err()
}

func (q *redisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		res, err := q.rdb.BRPop(ctx, 5*time.Second, redisQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return Job{}, err
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.log.Warn("dropping undecodable job", "error", err)
			continue
		}
		return job, nil
	}
}

func (q *redisQueue) Close() error {
	return q.rdb.Close()
}
