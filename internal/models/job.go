package models

import (
	"math"
	"time"
)

// JobKind names the feature worker a job runs.
type JobKind string

const (
	JobKindResync     JobKind = "resync"
	JobKindTravelTime JobKind = "travel_time"
	JobKindTasks      JobKind = "tasks"
	JobKindNarrative  JobKind = "narrative"
)

// JobKinds lists every kind a worker can be registered for.
var JobKinds = []JobKind{JobKindResync, JobKindTravelTime, JobKindTasks, JobKindNarrative}

// ParseJobKind validates a kind received from a client.
func ParseJobKind(s string) (JobKind, error) {
	for _, k := range JobKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrInvalidKind
}

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobProgress tracks completed units of work.
type JobProgress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Percentage int `json:"percentage"`
}

// NewJobProgress computes the percentage for completed out of total.
func NewJobProgress(completed, total int) JobProgress {
	pct := 0
	if total > 0 {
		pct = int(math.Round(100 * float64(completed) / float64(total)))
	}
	return JobProgress{Total: total, Completed: completed, Percentage: pct}
}

// Job is a persisted, detached unit of long-running work against a target entity.
type Job struct {
	ID          string         `json:"id"`
	TargetID    string         `json:"target_id"`
	Kind        JobKind        `json:"kind"`
	Status      JobStatus      `json:"status"`
	Progress    JobProgress    `json:"progress"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// LockKey is the single-flight key for the job's target and kind.
func (j Job) LockKey() string {
	return JobLockKey(j.TargetID, j.Kind)
}

// JobLockKey builds the single-flight key for a target and kind.
func JobLockKey(targetID string, kind JobKind) string {
	return string(kind) + ":" + targetID
}
