package binflow

import "fmt"

// RecoverableError marks a bin-processing failure that should route the
// bin's items to RelFailure and commit, rather than roll the session back.
// Processors wrap errors with Recoverable to choose this path.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("recoverable: %v", e.Err)
}

func (e *RecoverableError) Unwrap() error {
	return e.Err
}

// Recoverable wraps err so the engine treats it as a recoverable
// bin-processing failure. A nil err returns nil.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Err: err}
}

// SourceError is returned when pulling items from a session fails.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
