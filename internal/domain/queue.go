// Copyright 2025 James Ross
package domain

// QueueOptions holds per-queue job defaults (attempts, backoff, priority).
// Queue materialization records only the queue name, and job submission
// takes each job's options from its own request, not from these defaults.
type QueueOptions struct {
	Attempts   int `json:"attempts"`
	BackoffMs  int `json:"backoffMs"`
	Priority   int `json:"priority"`
}

// DefaultQueueOptions mirrors the teacher's worker.Backoff defaults,
// generalized from the two fixed priority queues to any queue name.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{Attempts: 3, BackoffMs: 500, Priority: 0}
}

// Queue is a lazily materialized named FIFO shared across applications.
type Queue struct {
	Name              string       `json:"name"`
	DefaultJobOptions QueueOptions `json:"defaultJobOptions"`
	Paused            bool         `json:"paused"`
}

// QueueStats is the counters view returned by stats/statsAll.
type QueueStats struct {
	Name      string `json:"name"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Delayed   int64  `json:"delayed"`
	Paused    bool   `json:"paused"`
}
