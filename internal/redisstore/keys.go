// Copyright 2025 James Ross
package redisstore

import "fmt"

// Key layout. All keys live under the jobqueue: namespace, generalized from
// the teacher's two fixed priority-queue keys to an arbitrary flat queue
// namespace shared across applications (spec §3 Queue invariant).
const (
	prefix = "jobqueue"
)

func jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", prefix, jobID)
}

func waitingKey(queue string) string {
	return fmt.Sprintf("%s:%s:waiting", prefix, queue)
}

func activeKey(queue string) string {
	return fmt.Sprintf("%s:%s:active", prefix, queue)
}

func completedKey(queue string) string {
	return fmt.Sprintf("%s:%s:completed", prefix, queue)
}

func failedKey(queue string) string {
	return fmt.Sprintf("%s:%s:failed", prefix, queue)
}

func delayedKey(queue string) string {
	return fmt.Sprintf("%s:%s:delayed", prefix, queue)
}

func pausedKey(queue string) string {
	return fmt.Sprintf("%s:%s:paused", prefix, queue)
}

func eventsChannel(queue string) string {
	return fmt.Sprintf("%s:events:%s", prefix, queue)
}

func repeatHashKey(queue, repeatKey string) string {
	return fmt.Sprintf("%s:repeat:%s:%s", prefix, queue, repeatKey)
}

// repeatScheduleKey is a global sorted set of due-timestamp -> repeat handle,
// polled by the Scheduler worker.
func repeatScheduleKey() string {
	return fmt.Sprintf("%s:repeat:schedule", prefix)
}

func queuesSetKey() string {
	return fmt.Sprintf("%s:queues", prefix)
}

func metadataIndexKey(applicationID, key, value string) string {
	return fmt.Sprintf("%s:metaidx:%s:%s:%s", prefix, applicationID, key, value)
}
