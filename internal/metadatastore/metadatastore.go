// Copyright 2025 James Ross

// Package metadatastore implements the spec's MetadataStore external
// collaborator: CRUD for Application, ApplicationWebhook, Subscription, and
// Schedule records. Two backends are provided -- a Redis implementation (one
// JSON string key per entity) for production and an in-memory fake for tests -- selected by
// config.MetadataStore.Backend, mirroring how the teacher's tenant-config
// persistence supported a pluggable store behind one interface.
package metadatastore

import (
	"context"
	"errors"

	"github.com/flyingrobots/jobbroker/internal/domain"
)

// ErrNotFound is returned by Get*/lookup methods when the record is absent.
var ErrNotFound = errors.New("metadatastore: not found")

// Store is the MetadataStore collaborator (spec §1, §3 ownership summary).
type Store interface {
	PutApplication(ctx context.Context, app *domain.Application) error
	GetApplication(ctx context.Context, id string) (*domain.Application, error)
	GetApplicationByAPIKey(ctx context.Context, apiKey string) (*domain.Application, error)
	ListApplications(ctx context.Context) ([]*domain.Application, error)
	DeleteApplication(ctx context.Context, id string) error

	PutWebhook(ctx context.Context, wh *domain.ApplicationWebhook) error
	GetWebhook(ctx context.Context, id string) (*domain.ApplicationWebhook, error)
	ListWebhooksByApplication(ctx context.Context, applicationID string) ([]*domain.ApplicationWebhook, error)
	DeleteWebhook(ctx context.Context, id string) error

	PutSubscription(ctx context.Context, sub *domain.Subscription) error
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptionsByApplication(ctx context.Context, applicationID string) ([]*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	PutSchedule(ctx context.Context, sched *domain.Schedule) error
	GetSchedule(ctx context.Context, id string) (*domain.Schedule, error)
	GetScheduleByName(ctx context.Context, name string) (*domain.Schedule, error)
	ListSchedules(ctx context.Context) ([]*domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}
