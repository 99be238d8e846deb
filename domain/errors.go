package domain

import "errors"

var (
	// ErrInvalidQuadrant is a caller error; the request is rejected without side effects.
	ErrInvalidQuadrant = errors.New("invalid quadrant")
	// ErrNotFound indicates the task no longer exists.
	ErrNotFound = errors.New("task not found")
	// ErrRemoteUnavailable covers transport failures and timeouts. Callers may retry.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrPermissionDenied is fatal for the operation and must not be retried.
	ErrPermissionDenied = errors.New("permission denied")
)
