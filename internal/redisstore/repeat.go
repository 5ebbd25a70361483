// Copyright 2025 James Ross
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RepeatHandle is the opaque handle a Schedule stores as its bullJobKey.
type RepeatHandle struct {
	Queue string `json:"queue"`
	Key   string `json:"key"`
}

func (h RepeatHandle) String() string {
	b, _ := json.Marshal(h)
	return string(b)
}

// ParseRepeatHandle decodes an opaque handle string back into its parts.
func ParseRepeatHandle(s string) (RepeatHandle, error) {
	var h RepeatHandle
	err := json.Unmarshal([]byte(s), &h)
	return h, err
}

type repeatRecord struct {
	Pattern  string     `json:"pattern"`
	Timezone string     `json:"timezone"`
	EndDate  *time.Time `json:"endDate,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	NextRun  time.Time  `json:"nextRun"`
	FireCount int       `json:"fireCount"`
}

// ScheduleRepeatable registers a repeating timer under (queue, key),
// scoring the global repeat-schedule sorted set by nextRun so the
// Scheduler's polling worker can find due entries cheaply.
func (s *Store) ScheduleRepeatable(ctx context.Context, queue, key string, nextRun time.Time, pattern, tz string, endDate *time.Time, limit int) (RepeatHandle, error) {
	h := RepeatHandle{Queue: queue, Key: key}
	rec := repeatRecord{Pattern: pattern, Timezone: tz, EndDate: endDate, Limit: limit, NextRun: nextRun}
	b, err := json.Marshal(rec)
	if err != nil {
		return h, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, repeatHashKey(queue, key), b, 0)
	pipe.ZAdd(ctx, repeatScheduleKey(), redis.Z{Score: float64(nextRun.UnixMilli()), Member: h.String()})
	_, err = pipe.Exec(ctx)
	return h, err
}

// ScheduleOnce registers a one-shot timer under (queue, key) firing at
// runAt.
func (s *Store) ScheduleOnce(ctx context.Context, queue, key string, runAt time.Time) (RepeatHandle, error) {
	return s.ScheduleRepeatable(ctx, queue, key, runAt, "", "", nil, 1)
}

// CancelRepeatable removes a repeat/once timer and its schedule entry.
func (s *Store) CancelRepeatable(ctx context.Context, h RepeatHandle) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, repeatHashKey(h.Queue, h.Key))
	pipe.ZRem(ctx, repeatScheduleKey(), h.String())
	_, err := pipe.Exec(ctx)
	return err
}

// DueRepeatHandles returns repeat handles whose nextRun has passed.
func (s *Store) DueRepeatHandles(ctx context.Context, limit int64) ([]RepeatHandle, error) {
	now := float64(time.Now().UnixMilli())
	raw, err := s.rdb.ZRangeByScore(ctx, repeatScheduleKey(), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now), Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RepeatHandle, 0, len(raw))
	for _, r := range raw {
		h, err := ParseRepeatHandle(r)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// RescheduleRepeat removes the stale schedule-set entry for h and re-adds it
// at nextRun, called by the Scheduler after a successful fire of a
// recurring (non-limit-exhausted) schedule.
func (s *Store) RescheduleRepeat(ctx context.Context, h RepeatHandle, nextRun time.Time) error {
	rec, err := s.repeatRecord(ctx, h)
	if err != nil {
		return err
	}
	rec.NextRun = nextRun
	rec.FireCount++
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, repeatScheduleKey(), h.String())
	pipe.Set(ctx, repeatHashKey(h.Queue, h.Key), b, 0)
	pipe.ZAdd(ctx, repeatScheduleKey(), redis.Z{Score: float64(nextRun.UnixMilli()), Member: h.String()})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) repeatRecord(ctx context.Context, h RepeatHandle) (repeatRecord, error) {
	var rec repeatRecord
	v, err := s.rdb.Get(ctx, repeatHashKey(h.Queue, h.Key)).Result()
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal([]byte(v), &rec)
	return rec, err
}
