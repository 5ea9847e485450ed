package store

// JobStatus represents the state of an attack job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusInProgress, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// TerminalStatuses lists every terminal job status.
var TerminalStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued: {JobStatusInProgress, JobStatusCancelled},
	// in_progress -> in_progress is a redelivery after an expired lease.
	JobStatusInProgress: {JobStatusInProgress, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status that may transition to the given status.
func SourcesOf(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusQueued, JobStatusInProgress} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
