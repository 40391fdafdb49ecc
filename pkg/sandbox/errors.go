package sandbox

import "errors"

var (
	// ErrCommandNotAllowed is returned when the command is not on the allowlist
	ErrCommandNotAllowed = errors.New("command not allowed")

	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrInvalidOutputLimit is returned when the output limit is invalid
	ErrInvalidOutputLimit = errors.New("invalid output limit (must be >= 0)")

	// ErrExecutionTimeout is returned when execution times out
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrArgumentNotAllowed is returned when an argument is denied by the command policy
	ErrArgumentNotAllowed = errors.New("argument not allowed")

	// ErrFilesystemAccessDenied is returned when filesystem access is denied
	ErrFilesystemAccessDenied = errors.New("filesystem access denied")
)
