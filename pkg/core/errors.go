package core

import "errors"

// Validation errors, returned to callers in a Response's error field.
var (
	ErrInvalidTarget       = errors.New("invalid target")
	ErrReservedTarget      = errors.New("target name 'null' is reserved")
	ErrTargetExists        = errors.New("target already exists")
	ErrTargetNotFound      = errors.New("target not found")
	ErrTargetNotEmpty      = errors.New("target queue is not empty")
	ErrInvalidConcurrency  = errors.New("concurrency must be > 0")
	ErrEmptyTargetList     = errors.New("targets list must not be empty")
	ErrInvalidJobID        = errors.New("invalid job id")
	ErrWorkerServingTarget = errors.New("worker serving target not found")
)

// ErrSocketClosed is the reason every outstanding request future fails
// with when its connection closes before a response arrives.
var ErrSocketClosed = errors.New("socket closed")

// ErrInvalidPassword is an auth error: fatal to the connection, not just
// the request.
var ErrInvalidPassword = errors.New("invalid password")

// ErrDuplicateWaiter is returned when run-manual is asked to wait on a
// job id that already has a waiter registered.
var ErrDuplicateWaiter = errors.New("job id already has a pending run-manual waiter")
