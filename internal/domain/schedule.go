// Copyright 2025 James Ross
package domain

import "time"

// ScheduleSpec carries exactly one of Cron or At. Timezone defaults to UTC.
type ScheduleSpec struct {
	Cron     string     `json:"cron,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
	EndDate  *time.Time `json:"endDate,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// ScheduleEndpoint is the outbound HTTP call a Schedule fires.
type ScheduleEndpoint struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// BackoffStrategy selects how a schedule's retry policy spaces attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed        BackoffStrategy = "fixed"
)

// ScheduleRetryPolicy is the schedule's own HTTP-execution retry policy.
type ScheduleRetryPolicy struct {
	Attempts int             `json:"attempts"`
	Backoff  ScheduleBackoff `json:"backoff"`
}

// ScheduleBackoff is the delay shape between schedule execution attempts.
type ScheduleBackoff struct {
	Type  BackoffStrategy `json:"type"`
	Delay time.Duration   `json:"delay"`
}

// ExecutionStatus records the outcome of the most recent schedule fire.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Schedule is a declarative record producing recurring or one-shot HTTP
// calls via the scheduler's internal timer.
type Schedule struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Enabled     bool                `json:"enabled"`
	Schedule    ScheduleSpec        `json:"schedule"`
	Endpoint    ScheduleEndpoint    `json:"endpoint"`
	RetryPolicy ScheduleRetryPolicy `json:"retryPolicy"`
	CreatedBy   string              `json:"createdBy,omitempty"`

	// BullJobKey is an opaque handle into the backing store's repeat/delay
	// primitive, owned exclusively by the Scheduler (spec §9 cycles note).
	BullJobKey string `json:"bullJobKey,omitempty"`

	LastExecutedAt     *time.Time             `json:"lastExecutedAt,omitempty"`
	LastExecutionStatus ExecutionStatus       `json:"lastExecutionStatus,omitempty"`
	LastExecutionError string                 `json:"lastExecutionError,omitempty"`
	ExecutionCount      int                    `json:"executionCount"`
	NextExecutionAt     *time.Time             `json:"nextExecutionAt,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LimitReached reports whether the schedule has fired its configured limit
// of successful executions.
func (s *Schedule) LimitReached() bool {
	return s.Schedule.Limit > 0 && s.ExecutionCount >= s.Schedule.Limit
}

// EndDatePassed reports whether `now` is past the schedule's end date.
func (s *Schedule) EndDatePassed(now time.Time) bool {
	return s.Schedule.EndDate != nil && now.After(*s.Schedule.EndDate)
}
