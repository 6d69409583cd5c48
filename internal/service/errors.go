package service

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound means the party does not exist, lives in another channel,
	// or has already started.
	ErrNotFound = errors.New("party not found")
	// ErrConflict means the requested slot overlaps another party in the channel.
	ErrConflict = errors.New("party conflicts with an existing party")
	// ErrForbidden means the requester is neither the owner nor a moderator.
	ErrForbidden = errors.New("not allowed to manage this party")
	// ErrAlreadyEnrolled means the user has already joined the party.
	ErrAlreadyEnrolled = errors.New("already joined this party")
	// ErrStore wraps every storage failure. Callers decide whether to retry.
	ErrStore = errors.New("party store failure")
)

// ValidationError carries every problem found in the request. Action names
// what was attempted, e.g. "schedule that party".
type ValidationError struct {
	Action   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid party: " + strings.Join(e.Problems, "; ")
}

// outcome labels err for metrics.
func outcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyEnrolled):
		return "already_enrolled"
	default:
		return "error"
	}
}
