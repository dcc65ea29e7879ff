package entity

import "fmt"

// Status is the lifecycle state of a tracked article URL.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusDone             Status = "done"
	StatusFailedExpansion  Status = "failed_expansion"
	StatusFailedValidation Status = "failed_validation"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusDone,
	StatusFailedExpansion,
	StatusFailedValidation,
}

// FailedStatuses are the terminal failure states eligible for retry.
var FailedStatuses = []Status{StatusFailedExpansion, StatusFailedValidation}

// transitions maps a target status to the statuses it may be entered from.
// Moving back to pending is only allowed from processing (interrupted run
// recovery) and from the failure states (explicit retry).
var transitions = map[Status][]Status{
	StatusPending:          {StatusProcessing, StatusFailedExpansion, StatusFailedValidation},
	StatusProcessing:       {StatusPending},
	StatusDone:             {StatusProcessing},
	StatusFailedExpansion:  {StatusProcessing},
	StatusFailedValidation: {StatusProcessing},
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsFailure reports whether s is one of the failure states.
func (s Status) IsFailure() bool {
	return s == StatusFailedExpansion || s == StatusFailedValidation
}

// AllowedFrom returns the statuses a URL may be in before moving to s.
func (s Status) AllowedFrom() []Status {
	return transitions[s]
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[to] {
		if allowed == from {
			return true
		}
	}
	return false
}
