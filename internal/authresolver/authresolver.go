// Copyright 2025 James Ross

// Package authresolver implements the spec §1 AuthResolver external
// collaborator: translating an opaque `x-api-key` credential into an
// Application (or the master pseudo-application), in the style of the
// teacher's RBAC/token-resolution helpers.
package authresolver

import (
	"context"

	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
)

// Resolver is the AuthResolver collaborator: it returns {applicationId,
// allowedQueues[], isMaster} from a credential.
type Resolver interface {
	Resolve(ctx context.Context, apiKey string) (*domain.Application, error)
}

// ErrMissingAPIKey is returned when no credential was supplied and
// ENABLE_API_KEY_AUTH is true.
var ErrMissingAPIKey = domain.NewError(domain.CodeMissingAPIKey, "x-api-key header is required")

// ErrInvalidAPIKey is returned when the credential does not resolve to a
// known Application.
var ErrInvalidAPIKey = domain.NewError(domain.CodeInvalidAPIKey, "x-api-key is not valid")

// Store is the MetadataStore-backed reference implementation of Resolver.
type Store struct {
	meta   metadatastore.Store
	cfg    config.Application
	master *domain.Application
}

// New returns a Store-backed Resolver. When cfg.MasterAPIKey is non-empty,
// that key resolves to the well-known master pseudo-application (spec §1
// "Special master key grants global admin").
func New(meta metadatastore.Store, cfg config.Application) *Store {
	return &Store{meta: meta, cfg: cfg, master: domain.NewMasterApplication()}
}

// Resolve implements Resolver.
func (s *Store) Resolve(ctx context.Context, apiKey string) (*domain.Application, error) {
	if apiKey == "" {
		if !s.cfg.EnableAPIKeyAuth {
			return s.defaultApplication(ctx)
		}
		return nil, ErrMissingAPIKey
	}
	if s.cfg.MasterAPIKey != "" && apiKey == s.cfg.MasterAPIKey {
		return s.master, nil
	}
	if !s.cfg.EnableAPIKeyAuth {
		return s.defaultApplication(ctx)
	}
	app, err := s.meta.GetApplicationByAPIKey(ctx, apiKey)
	if err == metadatastore.ErrNotFound {
		return nil, ErrInvalidAPIKey
	} else if err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	return app, nil
}

// defaultApplication resolves every request to a single application record
// when ENABLE_API_KEY_AUTH is false (spec §6 env var), creating it
// on first use so callers don't have to pre-seed MetadataStore.
func (s *Store) defaultApplication(ctx context.Context) (*domain.Application, error) {
	name := s.cfg.DefaultApplication
	if name == "" {
		name = "default"
	}
	app, err := s.meta.GetApplication(ctx, name)
	if err == nil {
		return app, nil
	}
	if err != metadatastore.ErrNotFound {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	app = &domain.Application{
		ID:       name,
		Name:     name,
		Settings: domain.ApplicationSettings{AllowedQueues: []string{"*"}},
	}
	if err := s.meta.PutApplication(ctx, app); err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	return app, nil
}
