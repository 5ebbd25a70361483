// Copyright 2025 James Ross
package metadatastore

import (
	"context"
	"sync"

	"github.com/flyingrobots/jobbroker/internal/domain"
)

// Memory is an in-process Store implementation used by tests and the
// "memory" MetadataStore.Backend setting.
type Memory struct {
	mu            sync.RWMutex
	applications  map[string]*domain.Application
	webhooks      map[string]*domain.ApplicationWebhook
	subscriptions map[string]*domain.Subscription
	schedules     map[string]*domain.Schedule
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		applications:  make(map[string]*domain.Application),
		webhooks:      make(map[string]*domain.ApplicationWebhook),
		subscriptions: make(map[string]*domain.Subscription),
		schedules:     make(map[string]*domain.Schedule),
	}
}

func (m *Memory) PutApplication(_ context.Context, app *domain.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *app
	m.applications[app.ID] = &cp
	return nil
}

func (m *Memory) GetApplication(_ context.Context, id string) (*domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.applications[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *Memory) GetApplicationByAPIKey(_ context.Context, apiKey string) (*domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, app := range m.applications {
		if app.APIKey == apiKey {
			cp := *app
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListApplications(_ context.Context) ([]*domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Application, 0, len(m.applications))
	for _, app := range m.applications {
		cp := *app
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) DeleteApplication(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.applications, id)
	return nil
}

func (m *Memory) PutWebhook(_ context.Context, wh *domain.ApplicationWebhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wh
	m.webhooks[wh.ID] = &cp
	return nil
}

func (m *Memory) GetWebhook(_ context.Context, id string) (*domain.ApplicationWebhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wh
	return &cp, nil
}

func (m *Memory) ListWebhooksByApplication(_ context.Context, applicationID string) ([]*domain.ApplicationWebhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.ApplicationWebhook, 0)
	for _, wh := range m.webhooks {
		if wh.ApplicationID == applicationID {
			cp := *wh
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) DeleteWebhook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.webhooks, id)
	return nil
}

func (m *Memory) PutSubscription(_ context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subscriptions[sub.ID] = &cp
	return nil
}

func (m *Memory) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *Memory) ListSubscriptionsByApplication(_ context.Context, applicationID string) ([]*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Subscription, 0)
	for _, sub := range m.subscriptions {
		if sub.ApplicationID == applicationID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, id)
	return nil
}

func (m *Memory) PutSchedule(_ context.Context, sched *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sched
	m.schedules[sched.ID] = &cp
	return nil
}

func (m *Memory) GetSchedule(_ context.Context, id string) (*domain.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sched, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sched
	return &cp, nil
}

func (m *Memory) GetScheduleByName(_ context.Context, name string) (*domain.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sched := range m.schedules {
		if sched.Name == name {
			cp := *sched
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListSchedules(_ context.Context) ([]*domain.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Schedule, 0, len(m.schedules))
	for _, sched := range m.schedules {
		cp := *sched
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

var _ Store = (*Memory)(nil)
