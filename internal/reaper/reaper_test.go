// Copyright 2025 James Ross
package reaper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
)

func newTestReaper(t *testing.T) (*Reaper, *redisstore.Store, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.NewWithClient(rdb)
	qmgr := queuemanager.New(store, zap.NewNop())
	rep := New(store, qmgr, config.Reaper{PollInterval: time.Second, StaleAfter: time.Minute}, zap.NewNop())
	return rep, store, rdb, mr
}

func putActiveJob(t *testing.T, ctx context.Context, store *redisstore.Store, rdb *redis.Client, queue, id string, startedAt time.Time) {
	t.Helper()
	job := &domain.Job{
		ID:            id,
		Queue:         queue,
		ApplicationID: "app-1",
		Status:        domain.JobActive,
		StartedAt:     &startedAt,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutJob(ctx, id, string(domain.JobActive), payload); err != nil {
		t.Fatal(err)
	}
	if err := store.MaterializeQueue(ctx, queue); err != nil {
		t.Fatal(err)
	}
	// simulate the claim that originally moved the job onto the active list
	if err := rdb.LPush(ctx, "jobqueue:"+queue+":active", id).Err(); err != nil {
		t.Fatal(err)
	}
}

func TestReaperRequeuesStaleActiveJob(t *testing.T) {
	rep, store, rdb, mr := newTestReaper(t)
	defer mr.Close()
	ctx := context.Background()

	staleStart := time.Now().Add(-5 * time.Minute)
	putActiveJob(t, ctx, store, rdb, "reports", "job-stale", staleStart)

	rep.scanOnce(ctx)

	raw, err := store.GetJob(ctx, "job-stale")
	if err != nil {
		t.Fatal(err)
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobWaiting {
		t.Fatalf("expected job requeued to waiting, got %s", job.Status)
	}
	if job.StartedAt != nil {
		t.Fatalf("expected StartedAt cleared on requeue")
	}

	members, err := rdb.LRange(ctx, "jobqueue:reports:waiting", 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, v := range members {
		if v == "job-stale" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected job-stale on waiting list, got %v", members)
	}

	remaining, err := rdb.LLen(ctx, "jobqueue:reports:active").Result()
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Fatalf("expected active list drained, got %d", remaining)
	}
}

func TestReaperLeavesFreshActiveJobAlone(t *testing.T) {
	rep, store, rdb, mr := newTestReaper(t)
	defer mr.Close()
	ctx := context.Background()

	putActiveJob(t, ctx, store, rdb, "reports", "job-fresh", time.Now())

	rep.scanOnce(ctx)

	raw, err := store.GetJob(ctx, "job-fresh")
	if err != nil {
		t.Fatal(err)
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobActive {
		t.Fatalf("expected job to remain active, got %s", job.Status)
	}
}
