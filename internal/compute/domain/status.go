package domain

import "fmt"

// JobStatus is a state of the job lifecycle.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusQueued     JobStatus = "QUEUED"
	StatusAssigned   JobStatus = "ASSIGNED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusCancelled  JobStatus = "CANCELLED"
	StatusTimeout    JobStatus = "TIMEOUT"
)

// edges is the complete set of allowed transitions.
var edges = map[JobStatus][]JobStatus{
	StatusPending:    {StatusQueued, StatusCancelled},
	StatusQueued:     {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusTimeout},
}

// ParseStatus validates a status string.
func ParseStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if st.rank() < 0 {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s), Err: ErrInvalidInput}
	}
	return st, nil
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Cancellable reports whether a user may still cancel the job.
func (s JobStatus) Cancellable() bool {
	return s == StatusPending || s == StatusQueued
}

func (s JobStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusQueued:
		return 1
	case StatusAssigned:
		return 2
	case StatusProcessing:
		return 3
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return 4
	}
	return -1
}

// CanTransition is the per-edge guard.
func CanTransition(from, to JobStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns the states from which to is reachable in one step.
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for from, nexts := range edges {
		for _, n := range nexts {
			if n == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// TransitionCheck classifies an attempted transition against the current state.
type TransitionCheck int

const (
	// TransitionAllowed: from -> to is an edge.
	TransitionAllowed TransitionCheck = iota
	// TransitionDuplicate: the job is already at or past the target; nothing to do.
	TransitionDuplicate
	// TransitionConflict: the job ended in a different terminal state.
	TransitionConflict
	// TransitionInvalid: to is ahead of from but not adjacent.
	TransitionInvalid
)

// CheckTransition decides how an attempt to move from -> to must be handled.
func CheckTransition(from, to JobStatus) TransitionCheck {
	switch {
	case CanTransition(from, to):
		return TransitionAllowed
	case from == to:
		return TransitionDuplicate
	case from.IsTerminal():
		return TransitionConflict
	case !to.IsTerminal() && to.rank() < from.rank():
		return TransitionDuplicate
	default:
		return TransitionInvalid
	}
}
