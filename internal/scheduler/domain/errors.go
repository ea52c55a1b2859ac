package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job lookup by id misses.
	ErrJobNotFound = errors.New("job not found")

	// ErrWorkerNotFound is returned when a worker lookup by id misses.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrInvalidInput is returned for malformed ids, payloads, or requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a transition's preconditions no longer
	// hold at commit time, e.g. the worker picked up another job between the
	// dispatcher's read and its write.
	ErrConflict = errors.New("conflicting state transition")
)
