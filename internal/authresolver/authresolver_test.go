// Copyright 2025 James Ross
package authresolver

import (
	"context"
	"testing"

	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
)

func TestResolveMasterAPIKey(t *testing.T) {
	meta := metadatastore.NewMemory()
	r := New(meta, config.Application{MasterAPIKey: "master-key", EnableAPIKeyAuth: true})

	app, err := r.Resolve(context.Background(), "master-key")
	if err != nil {
		t.Fatal(err)
	}
	if !app.IsMaster {
		t.Fatal("expected the master api key to resolve to the master application")
	}
}

func TestResolveMissingAPIKeyWhenAuthEnabled(t *testing.T) {
	meta := metadatastore.NewMemory()
	r := New(meta, config.Application{EnableAPIKeyAuth: true})

	_, err := r.Resolve(context.Background(), "")
	if err != ErrMissingAPIKey {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestResolveInvalidAPIKey(t *testing.T) {
	meta := metadatastore.NewMemory()
	r := New(meta, config.Application{EnableAPIKeyAuth: true})

	_, err := r.Resolve(context.Background(), "does-not-exist")
	if err != ErrInvalidAPIKey {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestResolveKnownAPIKey(t *testing.T) {
	meta := metadatastore.NewMemory()
	app := &domain.Application{ID: "app-1", APIKey: "secret-key", Settings: domain.ApplicationSettings{AllowedQueues: []string{"emails"}}}
	if err := meta.PutApplication(context.Background(), app); err != nil {
		t.Fatal(err)
	}
	r := New(meta, config.Application{EnableAPIKeyAuth: true})

	got, err := r.Resolve(context.Background(), "secret-key")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "app-1" {
		t.Fatalf("expected app-1, got %q", got.ID)
	}
}

func TestResolveDefaultApplicationWhenAuthDisabled(t *testing.T) {
	meta := metadatastore.NewMemory()
	r := New(meta, config.Application{EnableAPIKeyAuth: false, DefaultApplication: "anon"})

	app, err := r.Resolve(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if app.ID != "anon" {
		t.Fatalf("expected default application id 'anon', got %q", app.ID)
	}

	again, err := r.Resolve(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != app.ID {
		t.Fatal("expected the default application to be stable across calls")
	}
}

func TestResolveIgnoresSuppliedKeyWhenAuthDisabled(t *testing.T) {
	meta := metadatastore.NewMemory()
	r := New(meta, config.Application{EnableAPIKeyAuth: false, DefaultApplication: "anon"})

	app, err := r.Resolve(context.Background(), "whatever")
	if err != nil {
		t.Fatal(err)
	}
	if app.ID != "anon" {
		t.Fatalf("expected default application even with a key supplied, got %q", app.ID)
	}
}
