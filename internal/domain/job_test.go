// Copyright 2025 James Ross
package domain

import "testing"

func TestJobCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"waiting to active", JobWaiting, JobActive, true},
		{"waiting to waiting (requeue)", JobWaiting, JobWaiting, true},
		{"waiting to completed skips active", JobWaiting, JobCompleted, false},
		{"delayed to active", JobDelayed, JobActive, true},
		{"active to active overtaking", JobActive, JobActive, true},
		{"active to completed", JobActive, JobCompleted, true},
		{"active to failed", JobActive, JobFailed, true},
		{"active to waiting", JobActive, JobWaiting, false},
		{"completed to anything", JobCompleted, JobActive, false},
		{"failed to anything", JobFailed, JobActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Status: tt.from}
			if got := j.CanTransition(tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransitionStatus(t *testing.T) {
	tests := []struct {
		verb       EventType
		wantStatus JobStatus
		wantOK     bool
	}{
		{EventStarted, JobActive, true},
		{EventProgress, JobActive, true},
		{EventComplete, JobCompleted, true},
		{EventFailed, JobFailed, true},
		{EventCreated, "", false},
		{EventStalled, "", false},
		{EventWildcard, "", false},
		{EventType("waiting"), "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.verb), func(t *testing.T) {
			status, ok := TransitionStatus(tt.verb)
			if ok != tt.wantOK || status != tt.wantStatus {
				t.Fatalf("TransitionStatus(%s) = (%s, %v), want (%s, %v)", tt.verb, status, ok, tt.wantStatus, tt.wantOK)
			}
		})
	}
}

func TestJobIsTerminal(t *testing.T) {
	for _, st := range []JobStatus{JobWaiting, JobActive, JobDelayed} {
		if (&Job{Status: st}).IsTerminal() {
			t.Fatalf("status %s should not be terminal", st)
		}
	}
	for _, st := range []JobStatus{JobCompleted, JobFailed} {
		if !(&Job{Status: st}).IsTerminal() {
			t.Fatalf("status %s should be terminal", st)
		}
	}
}

func TestApplicationSettingsAllowsQueue(t *testing.T) {
	s := ApplicationSettings{AllowedQueues: []string{"emails", "reports"}}
	if !s.AllowsQueue("emails") {
		t.Fatal("expected emails to be allowed")
	}
	if s.AllowsQueue("billing") {
		t.Fatal("expected billing to be denied")
	}

	wildcard := ApplicationSettings{AllowedQueues: []string{"*"}}
	if !wildcard.AllowsQueue("anything") {
		t.Fatal("expected wildcard to allow any queue")
	}
}

func TestNewMasterApplication(t *testing.T) {
	app := NewMasterApplication()
	if !app.IsMaster {
		t.Fatal("expected master application")
	}
	if app.ID != MasterApplicationID {
		t.Fatalf("expected ID %q, got %q", MasterApplicationID, app.ID)
	}
	if !app.Settings.AllowsQueue("any-queue-name") {
		t.Fatal("expected master to allow any queue")
	}
}
