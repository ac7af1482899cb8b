package async

import "time"

// JobStatus is the lifecycle state of a background indexing job.
type JobStatus string

const (
	// StatusPending is set between Start and the worker's first step.
	StatusPending JobStatus = "pending"
	// StatusRunning means the worker is processing books.
	StatusRunning JobStatus = "running"
	// StatusCompleted means all sources were processed (some may have
	// failed individually; see the counters).
	StatusCompleted JobStatus = "completed"
	// StatusCancelled means the job stopped at a book boundary after a
	// cancellation request. Work committed before the stop is kept.
	StatusCancelled JobStatus = "cancelled"
	// StatusFailed means the worker aborted mid-job (panic); the
	// snapshot's Error field carries the cause. Individual book failures
	// do not fail the job, only the counters record them.
	StatusFailed JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// JobSnapshot is an immutable view of a job's progress. Snapshots are
// published whole via an atomic pointer swap; readers never observe a
// partially updated snapshot and never block the worker.
type JobSnapshot struct {
	ID     string
	Status JobStatus

	// Progress counters.
	Total   int
	Done    int
	Indexed int
	Skipped int
	Failed  int

	// LastPath is the most recently finished source.
	LastPath string
	// LastTitle is its extracted title, when known.
	LastTitle string

	StartedAt  time.Time
	FinishedAt time.Time

	// Error is set when Status is StatusFailed.
	Error string
}

// Elapsed returns how long the job has run (or ran).
func (s *JobSnapshot) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}
