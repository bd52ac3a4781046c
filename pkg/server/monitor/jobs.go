package monitor

import (
	"sync"
	"time"
)

// MaxConsecutiveErrors is the number of failures in a row after which a job is unhealthy.
const MaxConsecutiveErrors = 3

// JobMonitor tracks the health of a recurring job such as badger GC or analyses.
type JobMonitor struct {
	name string

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	runs              int
	consecutiveErrors int
	lastError         string
}

// NewJobMonitor creates a monitor for the named job.
func NewJobMonitor(name string) *JobMonitor {
	return &JobMonitor{name: name}
}

// RecordSuccess records a successful run.
func (jm *JobMonitor) RecordSuccess() {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	now := time.Now()
	jm.lastSuccess = now
	jm.lastAttempt = now
	jm.runs++
	jm.consecutiveErrors = 0
	jm.lastError = ""
}

// RecordFailure records a failed run.
func (jm *JobMonitor) RecordFailure(err error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.lastAttempt = time.Now()
	jm.runs++
	jm.consecutiveErrors++
	if err != nil {
		jm.lastError = err.Error()
	}
}

// Record records the outcome of a run.
func (jm *JobMonitor) Record(err error) {
	if err != nil {
		jm.RecordFailure(err)
		return
	}
	jm.RecordSuccess()
}

// IsHealthy reports whether the job has not failed more than
// MaxConsecutiveErrors times in a row. A job that never ran is healthy.
func (jm *JobMonitor) IsHealthy() bool {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.consecutiveErrors <= MaxConsecutiveErrors
}

// JobStatus is the health of one job in /v1/health.
type JobStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	Runs              int    `json:"runs"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current job status.
func (jm *JobMonitor) Status() JobStatus {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	status := JobStatus{
		Name:    jm.name,
		Healthy: jm.consecutiveErrors <= MaxConsecutiveErrors,
		Runs:    jm.runs,
	}
	if !jm.lastSuccess.IsZero() {
		status.LastSuccess = jm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(jm.lastSuccess).Round(time.Second).String()
	}
	if !jm.lastAttempt.IsZero() {
		status.LastAttempt = jm.lastAttempt.Format(time.RFC3339)
	}
	if jm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = jm.consecutiveErrors
		status.LastError = jm.lastError
	}
	return status
}
