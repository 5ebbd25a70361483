// Copyright 2025 James Ross
package redisstore

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flyingrobots/jobbroker/internal/config"
)

// Store wraps the Redis-compatible backing store's primitives: atomic
// ordered queues, delayed/repeatable job timers, and a pub/sub event
// stream. It is the spec §4.1 backing-store adapter, adapted from
// internal/redisclient.New (connection construction) and the list/zset
// operations scattered across internal/worker and internal/producer.
type Store struct {
	rdb *redis.Client
}

// New returns a configured Store with pooling and retries sized the way the
// teacher's redisclient.New does it.
func New(cfg *config.Redis) *Store {
	poolSize := cfg.PoolSizeMultiplier * runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})
	return &Store{rdb: rdb}
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Client exposes the underlying pooled connection so sibling collaborators
// (MetadataStore) can share one connection pool instead of opening another.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Ping checks connectivity to the backing store, used by the /health
// endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// EnqueueOptions configures a single Enqueue call.
type EnqueueOptions struct {
	Delay    time.Duration
	Priority int
	Attempts int
}

// Enqueue atomically registers the queue (if new) and pushes jobID onto the
// queue's waiting list, or onto the delayed set if Delay > 0.
func (s *Store) Enqueue(ctx context.Context, queue, jobID string, opts EnqueueOptions) error {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, queuesSetKey(), queue)
	if opts.Delay > 0 {
		runAt := time.Now().Add(opts.Delay)
		pipe.ZAdd(ctx, delayedKey(queue), redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	} else {
		pipe.LPush(ctx, waitingKey(queue), jobID)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", queue, jobID, err)
	}
	if err := s.Publish(ctx, queue, "added", jobID, nil); err != nil {
		return err
	}
	return nil
}

// PromoteDelayed moves any delayed jobs whose run time has arrived onto the
// queue's waiting list, returning the jobIDs promoted. Intended to be
// polled by a background loop (spec: "delayed -> waiting on timer fire").
func (s *Store) PromoteDelayed(ctx context.Context, queue string) ([]string, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := s.rdb.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		pipe := s.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey(queue), id)
		pipe.LPush(ctx, waitingKey(queue), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ClaimNext moves a waiting job id to the active list and returns it. It
// blocks up to timeout waiting for a job, returning redis.Nil when none
// arrives in time.
func (s *Store) ClaimNext(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	return s.rdb.BRPopLPush(ctx, waitingKey(queue), activeKey(queue), timeout).Result()
}

// RemoveActive removes jobID from the queue's active list, used once a
// worker update has been durably applied.
func (s *Store) RemoveActive(ctx context.Context, queue, jobID string) error {
	return s.rdb.LRem(ctx, activeKey(queue), 1, jobID).Err()
}

// RequeueStale atomically moves jobID from the queue's active list back onto
// its waiting list, used by the stale-active reconciliation loop to recover
// jobs abandoned by a worker that never reported completion.
func (s *Store) RequeueStale(ctx context.Context, queue, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.LRem(ctx, activeKey(queue), 1, jobID)
	pipe.LPush(ctx, waitingKey(queue), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkTerminal records jobID under the queue's completed or failed sorted
// set, scored by the terminal timestamp, so retention purges can scan by
// age (spec: completedJobRetention / failedJobRetention).
func (s *Store) MarkTerminal(ctx context.Context, queue, jobID string, failed bool, at time.Time) error {
	key := completedKey(queue)
	if failed {
		key = failedKey(queue)
	}
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: jobID}).Err()
}

// PurgeOlderThan removes completed/failed entries for queue older than
// `before`, capped at `limit` removals, returning the count removed. Used by
// both the Queue Manager's clean op and scheduled retention purges.
func (s *Store) PurgeOlderThan(ctx context.Context, queue string, failed bool, before time.Time, limit int64) (int64, error) {
	key := completedKey(queue)
	if failed {
		key = failedKey(queue)
	}
	ids, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", before.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, key, toInterfaceSlice(ids)...)
	for _, id := range ids {
		pipe.Del(ctx, jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Stats returns the raw counters for a queue: waiting, active, completed,
// failed, delayed, and the paused bit.
type Stats struct {
	Waiting, Active, Completed, Failed, Delayed int64
	Paused                                       bool
}

func (s *Store) Stats(ctx context.Context, queue string) (Stats, error) {
	pipe := s.rdb.Pipeline()
	waiting := pipe.LLen(ctx, waitingKey(queue))
	active := pipe.LLen(ctx, activeKey(queue))
	completed := pipe.ZCard(ctx, completedKey(queue))
	failed := pipe.ZCard(ctx, failedKey(queue))
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	paused := pipe.Exists(ctx, pausedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Stats{}, err
	}
	return Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Paused:    paused.Val() > 0,
	}, nil
}

// Pause marks a queue as paused; consumers must check IsPaused before
// claiming.
func (s *Store) Pause(ctx context.Context, queue string) error {
	return s.rdb.Set(ctx, pausedKey(queue), "1", 0).Err()
}

// Resume clears a queue's paused marker.
func (s *Store) Resume(ctx context.Context, queue string) error {
	return s.rdb.Del(ctx, pausedKey(queue)).Err()
}

// IsPaused reports whether a queue is currently paused.
func (s *Store) IsPaused(ctx context.Context, queue string) (bool, error) {
	n, err := s.rdb.Exists(ctx, pausedKey(queue)).Result()
	return n > 0, err
}

// ListQueues returns every queue name ever materialized.
func (s *Store) ListQueues(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, queuesSetKey()).Result()
}

// MaterializeQueue idempotently registers a queue name in the global
// namespace without enqueuing a job, used by QueueManager.Materialize.
func (s *Store) MaterializeQueue(ctx context.Context, queue string) error {
	return s.rdb.SAdd(ctx, queuesSetKey(), queue).Err()
}

// JobIDsByStatus returns up to limit job IDs currently in the given status
// bucket for queue, newest first, without requiring a metadata filter (spec
// §4.3 "list(queue?, status?)"). waiting/active are plain lists ordered by
// insertion; completed/failed/delayed are sorted sets scored by timestamp.
func (s *Store) JobIDsByStatus(ctx context.Context, queue, status string, limit int64) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	switch status {
	case "waiting":
		return s.rdb.LRange(ctx, waitingKey(queue), 0, stop).Result()
	case "active":
		return s.rdb.LRange(ctx, activeKey(queue), 0, stop).Result()
	case "delayed":
		return zrevrangeLimit(ctx, s.rdb, delayedKey(queue), limit)
	case "completed":
		return zrevrangeLimit(ctx, s.rdb, completedKey(queue), limit)
	case "failed":
		return zrevrangeLimit(ctx, s.rdb, failedKey(queue), limit)
	default:
		return nil, fmt.Errorf("unknown status bucket %q", status)
	}
}

// AllJobIDs returns up to limit job IDs across every status bucket for
// queue, taking the buckets in the order active, waiting, delayed, failed,
// completed (each newest first), used when List is called with no status
// filter.
func (s *Store) AllJobIDs(ctx context.Context, queue string, limit int64) ([]string, error) {
	var out []string
	for _, status := range []string{"active", "waiting", "delayed", "failed", "completed"} {
		remaining := int64(-1)
		if limit > 0 {
			remaining = limit - int64(len(out))
			if remaining <= 0 {
				break
			}
		}
		ids, err := s.JobIDsByStatus(ctx, queue, status, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

func zrevrangeLimit(ctx context.Context, rdb *redis.Client, key string, limit int64) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	return rdb.ZRevRange(ctx, key, 0, stop).Result()
}
