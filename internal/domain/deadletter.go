package domain

import "time"

// DeadLetterEntry is an immutable snapshot of a job that will not be retried.
type DeadLetterEntry struct {
	ID        string
	Job       JobContext
	Payload   Payload
	Failure   FailureType
	Reason    string
	Attempts  int
	History   []AttemptRecord
	CreatedAt time.Time
}

// DeadLetterFilter narrows List queries. Zero fields match everything.
type DeadLetterFilter struct {
	JobType JobType
	Failure FailureType
	Since   time.Time
	Until   time.Time
}

// Match reports whether e passes the filter.
func (f DeadLetterFilter) Match(e DeadLetterEntry) bool {
	if f.JobType != "" && e.Job.Type != f.JobType {
		return false
	}
	if f.Failure != "" && e.Failure != f.Failure {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

// DeadLetterStats summarizes the store.
type DeadLetterStats struct {
	TotalJobs         int                 `json:"total_jobs"`
	FailureTypeCounts map[FailureType]int `json:"failure_type_counts"`
}
