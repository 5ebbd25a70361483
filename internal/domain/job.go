// Copyright 2025 James Ross
package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobDelayed   JobStatus = "delayed"
)

// EventType is a job lifecycle transition fanned out to webhooks and subscriptions.
type EventType string

const (
	EventCreated  EventType = "created"
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventComplete EventType = "completed"
	EventFailed   EventType = "failed"
	EventStalled  EventType = "stalled"
	EventWildcard EventType = "*"
)

// JobUpdate is one entry in a job's append-only update history.
type JobUpdate struct {
	Status    JobStatus              `json:"status"`
	Progress  *int                   `json:"progress,omitempty"`
	Result    json.RawMessage        `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Job is the canonical unit of work tracked by the Job Tracker.
type Job struct {
	ID            string                 `json:"id"`
	Queue         string                 `json:"queue"`
	ApplicationID string                 `json:"applicationId"`
	Data          json.RawMessage        `json:"data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Status        JobStatus              `json:"status"`
	Progress      int                    `json:"progress"`
	Result        json.RawMessage        `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`

	SubmittedAt time.Time  `json:"submittedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`

	Webhooks map[string]string `json:"webhooks,omitempty"`
	Updates  []JobUpdate       `json:"updates,omitempty"`
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// CanTransition reports whether moving from the job's current status to `to`
// is a legal transition per the waiting -> active -> (completed|failed) state
// machine, with delayed -> waiting and progress updates while active.
func (j *Job) CanTransition(to JobStatus) bool {
	if j.IsTerminal() {
		return false
	}
	switch j.Status {
	case JobWaiting, JobDelayed:
		return to == JobActive || to == JobWaiting
	case JobActive:
		return to == JobActive || to == JobCompleted || to == JobFailed
	default:
		return false
	}
}

// TransitionStatus maps a client-supplied update verb ("started", "progress",
// "completed", "failed") onto the resting JobStatus it produces. "started"
// and "progress" both rest at active; only the caller's progress/result/error
// fields distinguish them. ok is false for verbs a client update can never
// carry (created, stalled, the wildcard).
func TransitionStatus(verb EventType) (status JobStatus, ok bool) {
	switch verb {
	case EventStarted, EventProgress:
		return JobActive, true
	case EventComplete:
		return JobCompleted, true
	case EventFailed:
		return JobFailed, true
	default:
		return "", false
	}
}

// Application is an isolated tenant identified by an API key.
type Application struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	APIKey   string             `json:"-"`
	Settings ApplicationSettings `json:"settings"`
	IsMaster bool               `json:"isMaster"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ApplicationSettings holds per-application configuration.
type ApplicationSettings struct {
	AllowedQueues     []string `json:"allowedQueues"`
	MaxConcurrentJobs int      `json:"maxConcurrentJobs"`
}

// AllowsQueue reports whether the application's allow-list covers `queue`.
func (s ApplicationSettings) AllowsQueue(queue string) bool {
	for _, q := range s.AllowedQueues {
		if q == "*" || q == queue {
			return true
		}
	}
	return false
}

// MasterApplicationID is the reserved ID of the pseudo-application that
// authenticates via the operator's master API key.
const MasterApplicationID = "master"

// NewMasterApplication returns the well-known master pseudo-application.
func NewMasterApplication() *Application {
	return &Application{
		ID:       MasterApplicationID,
		Name:     "master",
		IsMaster: true,
		Settings: ApplicationSettings{AllowedQueues: []string{"*"}},
	}
}
