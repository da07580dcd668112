package domain

import "errors"

var (
	// ErrInvalidRange reports malformed sweep bounds.
	ErrInvalidRange = errors.New("invalid parameter range")

	// ErrInvalidTestName reports an empty or overlong test name.
	ErrInvalidTestName = errors.New("invalid test name")

	// ErrDuplicateTestName reports a test name that is already in use.
	ErrDuplicateTestName = errors.New("duplicate test name")

	// ErrSeriesIntegrity reports a series with gaps or non-numeric prices.
	ErrSeriesIntegrity = errors.New("series integrity violation")

	// ErrWorkerExecution reports an unexpected failure of one sweep unit.
	ErrWorkerExecution = errors.New("worker execution failed")

	// ErrNotFound reports a missing test, result, or series.
	ErrNotFound = errors.New("not found")
)
