// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a replay job.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobStreaming
	JobCompleted
	JobFailed
	JobCancelled
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobStreaming:
		return "streaming"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is one in-flight replay. It is owned by the scheduler for its
// lifetime; callers observe it through the snapshot accessors.
type Job struct {
	ID     string
	Source string
	Target string

	mu       sync.Mutex
	status   JobStatus
	cursor   uint64
	hasCur   bool
	replayed uint64
	started  time.Time
	err      error
}

// newJob creates a pending job for the given source and target queues.
func newJob(source, target string) *Job {
	return &Job{
		ID:     uuid.NewString(),
		Source: source,
		Target: target,
		status: JobPending,
	}
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Cursor returns the offset of the last successfully re-published
// message. ok is false before the first publish.
func (j *Job) Cursor() (offset uint64, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor, j.hasCur
}

// Replayed returns the count of messages re-published so far.
func (j *Job) Replayed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.replayed
}

// Err returns the terminal error for a failed job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = JobStreaming
	j.started = time.Now()
}

// advance moves the cursor after a successful publish of the message at
// the given source offset.
func (j *Job) advance(offset uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cursor = offset
	j.hasCur = true
	j.replayed++
}

func (j *Job) finish(status JobStatus, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.err = err
}

func (j *Job) elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started.IsZero() {
		return 0
	}
	return time.Since(j.started)
}
