// Copyright 2025 James Ross
package domain

import "testing"

func TestSubscriptionMatchesEventMembership(t *testing.T) {
	sub := &Subscription{Events: []EventType{EventComplete}}
	job := &Job{Queue: "emails", Status: JobCompleted}
	if !sub.Matches(EventComplete, job) {
		t.Fatal("expected match on event membership")
	}
	if sub.Matches(EventFailed, job) {
		t.Fatal("expected no match for an unlisted event")
	}
}

func TestSubscriptionMatchesQueueFilter(t *testing.T) {
	sub := &Subscription{
		Events:  []EventType{EventComplete},
		Filters: SubscriptionFilter{Queues: []string{"emails"}},
	}
	if !sub.Matches(EventComplete, &Job{Queue: "emails", Status: JobCompleted}) {
		t.Fatal("expected match for allowed queue")
	}
	if sub.Matches(EventComplete, &Job{Queue: "reports", Status: JobCompleted}) {
		t.Fatal("expected no match for a queue outside the filter")
	}
}

func TestSubscriptionMatchesWildcardQueue(t *testing.T) {
	sub := &Subscription{
		Events:  []EventType{EventComplete},
		Filters: SubscriptionFilter{Queues: []string{"*"}},
	}
	if !sub.Matches(EventComplete, &Job{Queue: "anything", Status: JobCompleted}) {
		t.Fatal("expected wildcard queue filter to match any queue")
	}
}

func TestSubscriptionMatchesStatusFilter(t *testing.T) {
	sub := &Subscription{
		Events:  []EventType{EventWildcard},
		Filters: SubscriptionFilter{Statuses: []JobStatus{JobFailed}},
	}
	if sub.Matches(EventWildcard, &Job{Status: JobCompleted}) {
		t.Fatal("expected no match when status filter excludes the job's status")
	}
	if !sub.Matches(EventWildcard, &Job{Status: JobFailed}) {
		t.Fatal("expected match when status filter includes the job's status")
	}
}

func TestSubscriptionMatchesMetadataCoercion(t *testing.T) {
	sub := &Subscription{
		Events:  []EventType{EventWildcard},
		Filters: SubscriptionFilter{Metadata: map[string]string{"priority": "5", "urgent": "true"}},
	}
	job := &Job{
		Status:   JobWaiting,
		Metadata: map[string]interface{}{"priority": float64(5), "urgent": true},
	}
	if !sub.Matches(EventWildcard, job) {
		t.Fatal("expected numeric/bool metadata to coerce and match string filter values")
	}

	job.Metadata["priority"] = float64(6)
	if sub.Matches(EventWildcard, job) {
		t.Fatal("expected mismatched metadata value to fail the match")
	}
}

func TestSubscriptionMatchesMissingMetadataKey(t *testing.T) {
	sub := &Subscription{
		Events:  []EventType{EventWildcard},
		Filters: SubscriptionFilter{Metadata: map[string]string{"tenant": "acme"}},
	}
	job := &Job{Status: JobWaiting, Metadata: map[string]interface{}{}}
	if sub.Matches(EventWildcard, job) {
		t.Fatal("expected no match when the job lacks the filtered metadata key")
	}
}

func TestCoerceMetadataValue(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{"hello", "hello"},
		{float64(42), "42"},
		{float64(3.5), "3.5"},
		{true, "true"},
		{false, "false"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := CoerceMetadataValue(c.in); got != c.want {
			t.Fatalf("CoerceMetadataValue(%#v) = %q, want %q", c.in, got, c.want)
		}
	}
}
