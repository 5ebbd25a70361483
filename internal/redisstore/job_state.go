// Copyright 2025 James Ross
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrConflict is returned by UpdateJobState when the stored job is not in
// one of the expected previous states -- a CAS failure, surfaced to callers
// as the domain CONFLICT error (spec §4.1 failure semantics).
var ErrConflict = errors.New("job state conflict")

// casScript performs a compare-and-swap on a job hash's "status" field: it
// only applies `patch` when the current status is one of `from`. It returns
// 1 on success, 0 on conflict. Modeled on the atomic Lua-script pattern used
// throughout the teacher's Redis-backed primitives (BRPOPLPUSH + LREM pairs
// executed as a unit), generalized here to an explicit script since job
// transitions need a true compare-and-swap rather than a move.
var casScript = redis.NewScript(`
local key = KEYS[1]
local expected = ARGV[1]
local newjson = ARGV[2]
local cur = redis.call('HGET', key, 'status')
if cur == false then
  return 0
end
local ok = false
for s in string.gmatch(expected, '[^,]+') do
  if s == cur then
    ok = true
  end
end
if not ok then
  return 0
end
redis.call('HSET', key, 'json', newjson, 'status', cjson.decode(newjson)['status'])
return 1
`)

// PutJob writes the full job JSON blob unconditionally, used on initial
// submit.
func (s *Store) PutJob(ctx context.Context, jobID string, status string, payload []byte) error {
	return s.rdb.HSet(ctx, jobKey(jobID), "json", payload, "status", status).Err()
}

// GetJob returns the raw job JSON blob, or redis.Nil if absent.
func (s *Store) GetJob(ctx context.Context, jobID string) ([]byte, error) {
	v, err := s.rdb.HGet(ctx, jobKey(jobID), "json").Result()
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

// UpdateJobState performs the CAS described in spec §4.1: it only applies
// newPayload when the job's current status is one of expectedFrom.
func (s *Store) UpdateJobState(ctx context.Context, jobID string, expectedFrom []string, newPayload []byte) error {
	expected := ""
	for i, e := range expectedFrom {
		if i > 0 {
			expected += ","
		}
		expected += e
	}
	res, err := casScript.Run(ctx, s.rdb, []string{jobKey(jobID)}, expected, string(newPayload)).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteJob removes a job hash entirely. Retention purges do not call it;
// PurgeOlderThan deletes the job hashes itself.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, jobKey(jobID)).Err()
}

// IndexMetadata records (applicationId, key, value) -> jobID so the Job
// Tracker can answer metadata-filtered list() queries without a full scan
// (spec §9 "Dynamic metadata filtering").
func (s *Store) IndexMetadata(ctx context.Context, applicationID, key, value, jobID string) error {
	return s.rdb.SAdd(ctx, metadataIndexKey(applicationID, key, value), jobID).Err()
}

// JobsByMetadata returns the job IDs indexed under (applicationId, key,
// value).
func (s *Store) JobsByMetadata(ctx context.Context, applicationID, key, value string) ([]string, error) {
	return s.rdb.SMembers(ctx, metadataIndexKey(applicationID, key, value)).Result()
}

// jobEventEnvelope is the payload published on a queue's event channel.
type jobEventEnvelope struct {
	Event     string          `json:"event"`
	JobID     string          `json:"jobId"`
	Extra     json.RawMessage `json:"extra,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publish emits a backing-store event ({added, active, progress, completed,
// failed, stalled}) onto the queue's pub/sub channel.
func (s *Store) Publish(ctx context.Context, queue, event, jobID string, extra json.RawMessage) error {
	env := jobEventEnvelope{Event: event, JobID: jobID, Extra: extra, Timestamp: time.Now().UTC()}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, eventsChannel(queue), b).Err()
}

// BackingEvent is one message off a queue's event stream.
type BackingEvent struct {
	Event     string
	JobID     string
	Extra     json.RawMessage
	Timestamp time.Time
}

// SubscribeEvents returns a channel of backing-store events for `queue`,
// restartable after Close. The returned cancel func must be called to
// release the underlying subscription.
func (s *Store) SubscribeEvents(ctx context.Context, queue string) (<-chan BackingEvent, func() error) {
	sub := s.rdb.Subscribe(ctx, eventsChannel(queue))
	out := make(chan BackingEvent, 64)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env jobEventEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				select {
				case out <- BackingEvent{Event: env.Event, JobID: env.JobID, Extra: env.Extra, Timestamp: env.Timestamp}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close
}
