package room

import (
	"errors"
	"fmt"

	"github.com/worship-room/pkg/database"
)

var (
	// ErrPermissionDenied indicates the capability gate refused the action.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCapacityExceeded indicates a queue, per-user or room limit was reached.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrPolicyViolation indicates a room policy rejected the request.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrNotFound indicates a room, entry or participant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates the action conflicts with the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrQueueExhausted indicates PlayNext found no successor. The room is
	// left stopped.
	ErrQueueExhausted = errors.New("queue exhausted")

	// ErrInvalidArgument indicates a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrPermissionDenied, "permission_denied"},
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrPolicyViolation, "policy_violation"},
	{ErrNotFound, "not_found"},
	{ErrInvalidState, "invalid_state"},
	{ErrQueueExhausted, "queue_exhausted"},
	{ErrInvalidArgument, "invalid_argument"},
}

// Code returns the machine-readable code of a domain error, or "" for
// anything else.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

func checkPermission(ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("failed to check permission: %w", err)
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

func notFound(what string, err error) error {
	if database.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
