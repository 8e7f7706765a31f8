package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep bulk-expires sessions idle past the timeout.
	TaskSessionSweep = "session:sweep"
	// TaskSessionPurge hard-deletes long-ended session rows.
	TaskSessionPurge = "session:purge"
)

// NewSessionSweepTask constructs the sweep task. The sweep carries no
// payload; the cutoff is always computed from the clock at run time so a
// stale queue entry can never expire fresh sessions.
func NewSessionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskSessionSweep, nil)
}

// NewSessionPurgeTask constructs the purge task.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPurge, nil)
}
