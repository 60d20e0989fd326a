package memory

import "errors"

var (
	// ErrUserRequired is returned by store operations called without a user id.
	ErrUserRequired = errors.New("memory: user id is required")

	// ErrEmptyReflection means the model answered with nothing usable; the
	// stored reflection is left as it was.
	ErrEmptyReflection = errors.New("memory: reflection synthesis returned empty text")

	// ErrSynthesisFailed wraps completion-service failures during a refresh.
	ErrSynthesisFailed = errors.New("memory: reflection synthesis failed")

	// ErrNoReflectionMaterial means there are no facts or turns to reflect on.
	ErrNoReflectionMaterial = errors.New("memory: nothing to reflect on yet")
)
