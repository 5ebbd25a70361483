// Copyright 2025 James Ross
package metadatastore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/flyingrobots/jobbroker/internal/domain"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  NewRedis(rdb),
	}
}

func TestStoreApplicationCRUD(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			app := &domain.Application{ID: "app-1", Name: "Acme", APIKey: "key-123"}
			if err := store.PutApplication(ctx, app); err != nil {
				t.Fatal(err)
			}
			got, err := store.GetApplication(ctx, "app-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != "Acme" {
				t.Fatalf("expected name Acme, got %q", got.Name)
			}

			byKey, err := store.GetApplicationByAPIKey(ctx, "key-123")
			if err != nil {
				t.Fatal(err)
			}
			if byKey.ID != "app-1" {
				t.Fatalf("expected app-1 by api key, got %q", byKey.ID)
			}

			all, err := store.ListApplications(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 1 {
				t.Fatalf("expected 1 application, got %d", len(all))
			}

			if err := store.DeleteApplication(ctx, "app-1"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.GetApplication(ctx, "app-1"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if _, err := store.GetApplicationByAPIKey(ctx, "key-123"); err != ErrNotFound {
				t.Fatalf("expected api key index cleared after delete, got %v", err)
			}
		})
	}
}

func TestStoreWebhookCRUD(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			wh := &domain.ApplicationWebhook{ID: "wh-1", ApplicationID: "app-1", URL: "https://example.com/hook"}
			if err := store.PutWebhook(ctx, wh); err != nil {
				t.Fatal(err)
			}
			got, err := store.GetWebhook(ctx, "wh-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.URL != "https://example.com/hook" {
				t.Fatalf("unexpected url %q", got.URL)
			}

			list, err := store.ListWebhooksByApplication(ctx, "app-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Fatalf("expected 1 webhook for app-1, got %d", len(list))
			}

			if err := store.DeleteWebhook(ctx, "wh-1"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.GetWebhook(ctx, "wh-1"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			list, err = store.ListWebhooksByApplication(ctx, "app-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Fatalf("expected empty list after delete, got %d", len(list))
			}
		})
	}
}

func TestStoreSubscriptionCRUD(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sub := &domain.Subscription{ID: "sub-1", ApplicationID: "app-1", Endpoint: "https://example.com/events"}
			if err := store.PutSubscription(ctx, sub); err != nil {
				t.Fatal(err)
			}
			got, err := store.GetSubscription(ctx, "sub-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Endpoint != "https://example.com/events" {
				t.Fatalf("unexpected endpoint %q", got.Endpoint)
			}

			list, err := store.ListSubscriptionsByApplication(ctx, "app-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Fatalf("expected 1 subscription for app-1, got %d", len(list))
			}

			if err := store.DeleteSubscription(ctx, "sub-1"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.GetSubscription(ctx, "sub-1"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestStoreScheduleCRUD(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sched := &domain.Schedule{ID: "sched-1", Name: "nightly-report"}
			if err := store.PutSchedule(ctx, sched); err != nil {
				t.Fatal(err)
			}
			got, err := store.GetSchedule(ctx, "sched-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != "nightly-report" {
				t.Fatalf("unexpected name %q", got.Name)
			}

			byName, err := store.GetScheduleByName(ctx, "nightly-report")
			if err != nil {
				t.Fatal(err)
			}
			if byName.ID != "sched-1" {
				t.Fatalf("expected sched-1 by name, got %q", byName.ID)
			}

			list, err := store.ListSchedules(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Fatalf("expected 1 schedule, got %d", len(list))
			}

			if err := store.DeleteSchedule(ctx, "sched-1"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.GetSchedule(ctx, "sched-1"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if _, err := store.GetScheduleByName(ctx, "nightly-report"); err != ErrNotFound {
				t.Fatalf("expected name index cleared after delete, got %v", err)
			}
		})
	}
}

func TestStoreGetMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.GetApplication(ctx, "missing"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.GetWebhook(ctx, "missing"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.GetSubscription(ctx, "missing"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.GetSchedule(ctx, "missing"); err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}
