package pipeline

import "fmt"

// InputFormatError indicates input that violates the expected format: a
// non-zip package, or a structurally unreadable archive.
type InputFormatError struct {
	Message string
	Cause   error
}

func (e *InputFormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("input format error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("input format error: %s", e.Message)
}

func (e *InputFormatError) Unwrap() error {
	return e.Cause
}

// MissingDataError indicates an expected directory was absent after
// extraction. Fatal to the run.
type MissingDataError struct {
	Path string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("expected directory not found at: %s", e.Path)
}

// TransientIOError indicates a filesystem failure while preparing the run's
// working directory.
type TransientIOError struct {
	Op    string
	Cause error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("i/o error during %s: %v", e.Op, e.Cause)
}

func (e *TransientIOError) Unwrap() error {
	return e.Cause
}

// PersistenceError indicates a downstream database write failure. Logged, not
// fatal to the run.
type PersistenceError struct {
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %v", e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
