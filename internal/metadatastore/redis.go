// Copyright 2025 James Ross
package metadatastore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flyingrobots/jobbroker/internal/domain"
)

const prefix = "metadatastore"

// Redis is a Store implementation that keeps one JSON blob per entity under
// its own Redis string key, plus secondary lookup sets/strings for the
// indices the spec relies on (API key -> application, schedule name -> id).
type Redis struct {
	rdb *redis.Client
}

// NewRedis wraps an existing client, normally the one shared with
// internal/redisstore's connection pool.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func entityKey(kind, id string) string        { return fmt.Sprintf("%s:%s:%s", prefix, kind, id) }
func entitySetKey(kind string) string         { return fmt.Sprintf("%s:%s:all", prefix, kind) }
func apiKeyIndexKey(apiKey string) string     { return fmt.Sprintf("%s:application:by-key:%s", prefix, apiKey) }
func scheduleNameIndexKey(name string) string { return fmt.Sprintf("%s:schedule:by-name:%s", prefix, name) }
func byAppSetKey(kind, appID string) string   { return fmt.Sprintf("%s:%s:by-app:%s", prefix, kind, appID) }

func putEntity(ctx context.Context, rdb *redis.Client, kind, id string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe := rdb.TxPipeline()
	pipe.Set(ctx, entityKey(kind, id), payload, 0)
	pipe.SAdd(ctx, entitySetKey(kind), id)
	_, err = pipe.Exec(ctx)
	return err
}

func getEntity(ctx context.Context, rdb *redis.Client, kind, id string, v interface{}) error {
	raw, err := rdb.Get(ctx, entityKey(kind, id)).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (r *Redis) PutApplication(ctx context.Context, app *domain.Application) error {
	if err := putEntity(ctx, r.rdb, "application", app.ID, app); err != nil {
		return err
	}
	if app.APIKey != "" {
		if err := r.rdb.Set(ctx, apiKeyIndexKey(app.APIKey), app.ID, 0).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	var app domain.Application
	if err := getEntity(ctx, r.rdb, "application", id, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *Redis) GetApplicationByAPIKey(ctx context.Context, apiKey string) (*domain.Application, error) {
	id, err := r.rdb.Get(ctx, apiKeyIndexKey(apiKey)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetApplication(ctx, id)
}

func (r *Redis) ListApplications(ctx context.Context) ([]*domain.Application, error) {
	ids, err := r.rdb.SMembers(ctx, entitySetKey("application")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Application, 0, len(ids))
	for _, id := range ids {
		app, err := r.GetApplication(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, app)
	}
	return out, nil
}

func (r *Redis) DeleteApplication(ctx context.Context, id string) error {
	app, err := r.GetApplication(ctx, id)
	if err != nil && err != ErrNotFound {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, entityKey("application", id))
	pipe.SRem(ctx, entitySetKey("application"), id)
	if app != nil && app.APIKey != "" {
		pipe.Del(ctx, apiKeyIndexKey(app.APIKey))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) PutWebhook(ctx context.Context, wh *domain.ApplicationWebhook) error {
	if err := putEntity(ctx, r.rdb, "webhook", wh.ID, wh); err != nil {
		return err
	}
	return r.rdb.SAdd(ctx, byAppSetKey("webhook", wh.ApplicationID), wh.ID).Err()
}

func (r *Redis) GetWebhook(ctx context.Context, id string) (*domain.ApplicationWebhook, error) {
	var wh domain.ApplicationWebhook
	if err := getEntity(ctx, r.rdb, "webhook", id, &wh); err != nil {
		return nil, err
	}
	return &wh, nil
}

func (r *Redis) ListWebhooksByApplication(ctx context.Context, applicationID string) ([]*domain.ApplicationWebhook, error) {
	ids, err := r.rdb.SMembers(ctx, byAppSetKey("webhook", applicationID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ApplicationWebhook, 0, len(ids))
	for _, id := range ids {
		wh, err := r.GetWebhook(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, wh)
	}
	return out, nil
}

func (r *Redis) DeleteWebhook(ctx context.Context, id string) error {
	wh, err := r.GetWebhook(ctx, id)
	if err != nil && err != ErrNotFound {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, entityKey("webhook", id))
	pipe.SRem(ctx, entitySetKey("webhook"), id)
	if wh != nil {
		pipe.SRem(ctx, byAppSetKey("webhook", wh.ApplicationID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) PutSubscription(ctx context.Context, sub *domain.Subscription) error {
	if err := putEntity(ctx, r.rdb, "subscription", sub.ID, sub); err != nil {
		return err
	}
	return r.rdb.SAdd(ctx, byAppSetKey("subscription", sub.ApplicationID), sub.ID).Err()
}

func (r *Redis) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := getEntity(ctx, r.rdb, "subscription", id, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *Redis) ListSubscriptionsByApplication(ctx context.Context, applicationID string) ([]*domain.Subscription, error) {
	ids, err := r.rdb.SMembers(ctx, byAppSetKey("subscription", applicationID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Subscription, 0, len(ids))
	for _, id := range ids {
		sub, err := r.GetSubscription(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (r *Redis) DeleteSubscription(ctx context.Context, id string) error {
	sub, err := r.GetSubscription(ctx, id)
	if err != nil && err != ErrNotFound {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, entityKey("subscription", id))
	pipe.SRem(ctx, entitySetKey("subscription"), id)
	if sub != nil {
		pipe.SRem(ctx, byAppSetKey("subscription", sub.ApplicationID), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) PutSchedule(ctx context.Context, sched *domain.Schedule) error {
	if err := putEntity(ctx, r.rdb, "schedule", sched.ID, sched); err != nil {
		return err
	}
	return r.rdb.Set(ctx, scheduleNameIndexKey(sched.Name), sched.ID, 0).Err()
}

func (r *Redis) GetSchedule(ctx context.Context, id string) (*domain.Schedule, error) {
	var sched domain.Schedule
	if err := getEntity(ctx, r.rdb, "schedule", id, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (r *Redis) GetScheduleByName(ctx context.Context, name string) (*domain.Schedule, error) {
	id, err := r.rdb.Get(ctx, scheduleNameIndexKey(name)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetSchedule(ctx, id)
}

func (r *Redis) ListSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	ids, err := r.rdb.SMembers(ctx, entitySetKey("schedule")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Schedule, 0, len(ids))
	for _, id := range ids {
		sched, err := r.GetSchedule(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, sched)
	}
	return out, nil
}

func (r *Redis) DeleteSchedule(ctx context.Context, id string) error {
	sched, err := r.GetSchedule(ctx, id)
	if err != nil && err != ErrNotFound {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, entityKey("schedule", id))
	pipe.SRem(ctx, entitySetKey("schedule"), id)
	if sched != nil {
		pipe.Del(ctx, scheduleNameIndexKey(sched.Name))
	}
	_, err = pipe.Exec(ctx)
	return err
}

var _ Store = (*Redis)(nil)
