package domain

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// JobType tags the kind of work a job performs; it is half of the circuit
// breaker key and the dead-letter partition.
type JobType string

const (
	JobTypeBatchGenerate  JobType = "batch_generate"
	JobTypeSingleGenerate JobType = "single_generate"
)

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStateQueued         JobState = "queued"
	JobStateRunning        JobState = "running"
	JobStateRetryScheduled JobState = "retry_scheduled"
	JobStateSucceeded      JobState = "succeeded"
	JobStateDeadLetter     JobState = "dead_letter"
	// JobStateFailed is terminal for jobs that exhaust retries while the
	// dead-letter queue is disabled.
	JobStateFailed JobState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateDeadLetter || s == JobStateFailed
}

var allowedTransitions = map[JobState][]JobState{
	JobStateQueued:         {JobStateRunning, JobStateDeadLetter, JobStateFailed},
	JobStateRunning:        {JobStateSucceeded, JobStateRetryScheduled, JobStateDeadLetter, JobStateFailed},
	JobStateRetryScheduled: {JobStateQueued, JobStateDeadLetter, JobStateFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to JobState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Strategy selects the backoff formula.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
	StrategyImmediate   Strategy = "immediate"
)

// ParseStrategy accepts strategy names case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyExponential, StrategyLinear, StrategyFixed, StrategyImmediate:
		return st, nil
	default:
		return "", &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", s)}
	}
}

// RetryConfig governs attempts and backoff for one job. MaxRetries counts
// re-attempts, so a job runs at most MaxRetries+1 times.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Strategy     Strategy
	TotalTimeout time.Duration
	EnableDLQ    bool
	// Jitter is the +/- fraction applied to exponential and linear delays.
	Jitter float64
}

// DefaultRetryConfig mirrors the configuration defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		Strategy:     StrategyExponential,
		EnableDLQ:    true,
		Jitter:       0.1,
	}
}

// Validate rejects configurations the orchestrator cannot honor.
func (c RetryConfig) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return &ValidationError{Field: "max_retries", Reason: "must not be negative"}
	case c.InitialDelay < 0 || c.MaxDelay < 0:
		return &ValidationError{Field: "delay", Reason: "must not be negative"}
	case c.Multiplier < 1 && c.Strategy == StrategyExponential:
		return &ValidationError{Field: "multiplier", Reason: "must be >= 1 for exponential backoff"}
	case c.TotalTimeout < 0:
		return &ValidationError{Field: "total_timeout", Reason: "must not be negative"}
	case c.Jitter < 0 || c.Jitter > 0.5:
		return &ValidationError{Field: "jitter", Reason: "must be within [0, 0.5]"}
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	return nil
}

// JobContext identifies a job and the actors it is billed to.
type JobContext struct {
	ID        string    `json:"id"`
	Type      JobType   `json:"type"`
	Handler   string    `json:"handler"`
	UserID    string    `json:"user_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// AttemptRecord describes one attempt in a job's history.
type AttemptRecord struct {
	Number         int           `json:"number"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Failure        FailureType   `json:"failure,omitempty"`
	Error          string        `json:"error,omitempty"`
	Delay          time.Duration `json:"delay,omitempty"`
	ShortCircuited bool          `json:"short_circuited,omitempty"`
}

// Succeeded reports whether the attempt produced a value.
func (a AttemptRecord) Succeeded() bool { return a.Failure == "" }

// RetryableJob pairs a job context and payload with its mutable run state.
type RetryableJob struct {
	Context JobContext
	Payload Payload
	Config  RetryConfig

	mu       sync.Mutex
	state    JobState
	attempts int
	history  []AttemptRecord
	started  time.Time
	result   *JobExecutionResult
}

// NewRetryableJob creates a queued job.
func NewRetryableJob(ctx JobContext, payload Payload, cfg RetryConfig) *RetryableJob {
	return &RetryableJob{Context: ctx, Payload: payload, Config: cfg, state: JobStateQueued}
}

// State returns the current lifecycle state.
func (j *RetryableJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Attempts returns how many attempts have started.
func (j *RetryableJob) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// History returns a copy of the attempt history.
func (j *RetryableJob) History() []AttemptRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]AttemptRecord, len(j.history))
	copy(out, j.history)
	return out
}

// StartedAt is the time of the first attempt, zero before it.
func (j *RetryableJob) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

// Result returns the terminal result once the job is terminal.
func (j *RetryableJob) Result() (JobExecutionResult, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return JobExecutionResult{}, false
	}
	return *j.result, true
}

// Transition moves the job along a legal lifecycle edge.
func (j *RetryableJob) Transition(to JobState) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to)
}

func (j *RetryableJob) transitionLocked(to JobState) error {
	if !CanTransition(j.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.state, to)
	}
	j.state = to
	return nil
}

// BeginAttempt moves a queued job to running and returns the attempt number.
func (j *RetryableJob) BeginAttempt(now time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(JobStateRunning); err != nil {
		return 0, err
	}
	if j.started.IsZero() {
		j.started = now
	}
	j.attempts++
	return j.attempts, nil
}

// RecordAttempt appends an attempt entry.
func (j *RetryableJob) RecordAttempt(rec AttemptRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.history = append(j.history, rec)
}

// Finish moves the job to a terminal state and stores its result.
func (j *RetryableJob) Finish(to JobState, res JobExecutionResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !to.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrIllegalTransition, to)
	}
	if err := j.transitionLocked(to); err != nil {
		return err
	}
	res.State = to
	res.Attempts = j.attempts
	res.History = append([]AttemptRecord(nil), j.history...)
	j.result = &res
	return nil
}

// JobExecutionResult is returned for every submitted job once terminal.
type JobExecutionResult struct {
	JobID    string          `json:"job_id"`
	State    JobState        `json:"state"`
	Value    *Result         `json:"value,omitempty"`
	Attempts int             `json:"attempts"`
	History  []AttemptRecord `json:"history"`
	Failure  FailureType     `json:"failure,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Elapsed  time.Duration   `json:"elapsed"`
}

// JobTransition is the plain record emitted to durable stores whenever a
// job changes state.
type JobTransition struct {
	JobID        string
	JobType      JobType
	UserID       string
	Status       JobState
	RetryCount   int
	ErrorMessage string
	At           time.Time
}
