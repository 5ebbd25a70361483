// Copyright 2025 James Ross
package domain

import "testing"

func TestApplicationWebhookMatchesQueue(t *testing.T) {
	w := &ApplicationWebhook{Queues: []string{"emails"}}
	if !w.MatchesQueue("emails") {
		t.Fatal("expected match on configured queue")
	}
	if w.MatchesQueue("reports") {
		t.Fatal("expected no match on unconfigured queue")
	}

	unfiltered := &ApplicationWebhook{}
	if !unfiltered.MatchesQueue("anything") {
		t.Fatal("expected empty queue filter to match every queue")
	}

	wildcard := &ApplicationWebhook{Queues: []string{"*"}}
	if !wildcard.MatchesQueue("anything") {
		t.Fatal("expected wildcard queue filter to match every queue")
	}
}

func TestApplicationWebhookMatchesEvent(t *testing.T) {
	w := &ApplicationWebhook{Events: []EventType{EventComplete}}
	if !w.MatchesEvent(EventComplete) {
		t.Fatal("expected match on configured event")
	}
	if w.MatchesEvent(EventFailed) {
		t.Fatal("expected no match on unconfigured event")
	}

	wildcard := &ApplicationWebhook{Events: []EventType{EventWildcard}}
	if !wildcard.MatchesEvent(EventFailed) {
		t.Fatal("expected wildcard event to match anything")
	}
}
