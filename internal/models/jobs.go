// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is a job's lifecycle state (§4.H). Jobs never skip a state:
// Queued -> Running -> (Paused <-> Running) -> one of the four terminal
// states.
type JobStatus string

const (
	JobStatusQueued              JobStatus = "queued"
	JobStatusRunning             JobStatus = "running"
	JobStatusPaused              JobStatus = "paused"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusCanceled            JobStatus = "canceled"
	JobStatusFailed              JobStatus = "failed"
)

// Terminal reports whether a status can never transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusCanceled, JobStatusFailed:
		return true
	default:
		return false
	}
}

// JobReport is persisted on every state transition (§4.H). NonCriticalErrors
// is bounded by the job system to avoid unbounded growth on a pathological
// run; once full, further non-critical errors only bump a dropped counter.
type JobReport struct {
	ID                 uuid.UUID
	Name               string
	Action             string
	Status             JobStatus
	TaskCount          int64
	CompletedTaskCount int64
	StartedAt          time.Time
	CompletedAt        time.Time
	CriticalError      string
	NonCriticalErrors  []string
	DroppedErrorCount  int64
	Metadata           map[string]string
}
