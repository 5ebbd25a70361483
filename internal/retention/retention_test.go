// Copyright 2025 James Ross
package retention

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
)

func newTestPurger(t *testing.T, cfg config.Retention) (*Purger, *redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.NewWithClient(rdb)
	qmgr := queuemanager.New(store, zap.NewNop())
	return New(qmgr, cfg, zap.NewNop()), store, mr
}

func TestPurgerSweepsOldCompletedAndFailedJobs(t *testing.T) {
	ctx := context.Background()
	cfg := config.Retention{CompletedJobRetention: time.Hour, FailedJobRetention: 24 * time.Hour, PurgeBatchLimit: 1000}
	purger, store, mr := newTestPurger(t, cfg)
	defer mr.Close()

	if err := store.MaterializeQueue(ctx, "email"); err != nil {
		t.Fatal(err)
	}
	if err := store.PutJob(ctx, "old-done", "completed", []byte(`{"id":"old-done"}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkTerminal(ctx, "email", "old-done", false, time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.PutJob(ctx, "fresh-done", "completed", []byte(`{"id":"fresh-done"}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkTerminal(ctx, "email", "fresh-done", false, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.PutJob(ctx, "old-fail", "failed", []byte(`{"id":"old-fail"}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkTerminal(ctx, "email", "old-fail", true, time.Now().Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	purger.sweep(ctx)

	if _, err := store.GetJob(ctx, "old-done"); err != redis.Nil {
		t.Fatalf("expected old-done purged, got err=%v", err)
	}
	if _, err := store.GetJob(ctx, "fresh-done"); err != nil {
		t.Fatalf("expected fresh-done to survive, got %v", err)
	}
	if _, err := store.GetJob(ctx, "old-fail"); err != nil {
		t.Fatalf("expected old-fail to survive (within 24h failed retention), got %v", err)
	}
}
