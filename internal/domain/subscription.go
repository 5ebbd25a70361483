// Copyright 2025 James Ross
package domain

import "time"

// SubscriptionFilter narrows which job transitions a Subscription receives.
// An empty/nil field means "no restriction on this dimension".
type SubscriptionFilter struct {
	Queues   []string          `json:"queues,omitempty"`
	Statuses []JobStatus       `json:"statuses,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Transport selects the delivery mechanism for a Subscription.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportNATS Transport = "nats"
)

// Subscription is a durable, application-scoped fan-out rule.
type Subscription struct {
	ID            string              `json:"id"`
	ApplicationID string              `json:"applicationId"`
	Name          string              `json:"name"`
	Endpoint      string              `json:"endpoint"`
	Method        string              `json:"method"`
	Transport     Transport           `json:"transport,omitempty"`
	Headers       map[string]string   `json:"headers,omitempty"`
	Filters       SubscriptionFilter  `json:"filters"`
	Events        []EventType         `json:"events"`
	RetryConfig   RetryConfig         `json:"retryConfig"`
	Active        bool                `json:"active"`

	TriggerCount    int64      `json:"triggerCount"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Matches implements the Subscription Engine's matching algorithm (spec
// §4.5): event membership, then queue filter, then status filter, then
// per-key metadata equality, with the job's value coerced to a string by
// toComparableString before it is compared with the filter value.
func (s *Subscription) Matches(event EventType, job *Job) bool {
	found := false
	for _, e := range s.Events {
		if e == event {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	if len(s.Filters.Queues) > 0 {
		match := false
		for _, q := range s.Filters.Queues {
			if q == "*" || q == job.Queue {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(s.Filters.Statuses) > 0 {
		match := false
		for _, st := range s.Filters.Statuses {
			if st == job.Status {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	for k, want := range s.Filters.Metadata {
		got, ok := job.Metadata[k]
		if !ok {
			return false
		}
		if toComparableString(got) != want {
			return false
		}
	}

	return true
}

// toComparableString coerces a metadata value to its string form for
// equality comparison. The spec's source query layer coerces everything to
// strings before comparing; we follow that rule rather than strict Go type
// equality so that a numeric 5 submitted as JSON and a filter value "5"
// compare equal, matching how query-string filters are expressed over HTTP.
func toComparableString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return trimFloat(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return ""
	}
}
