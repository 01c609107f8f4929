package common

import (
	"errors"
	"fmt"
)

var (
	ErrFormat            = errors.New("invalid import format")
	ErrConflictingCorpus = errors.New("conflicting corpus")
	ErrDatabaseAccess    = errors.New("database access failed")
	ErrFileAccess        = errors.New("file access failed")
	ErrCancelled         = errors.New("import cancelled")
)

// FormatError reports an unrecognized or structurally invalid import directory.
// It is raised before any database mutation.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid import format in %s: %s", e.Path, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// ConflictingCorpusError reports an existing top-level corpus with the same name.
type ConflictingCorpusError struct {
	Name string
}

func (e *ConflictingCorpusError) Error() string {
	return fmt.Sprintf("top-level corpus %q already exists", e.Name)
}

func (e *ConflictingCorpusError) Is(target error) bool { return target == ErrConflictingCorpus }

// DatabaseAccessError wraps an engine-level failure. The driver error is kept
// so callers can still reach the *pgconn.PgError diagnostic.
type DatabaseAccessError struct {
	Op  string
	Err error
}

func (e *DatabaseAccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("database access failed during %s", e.Op)
	}
	return fmt.Sprintf("database access failed during %s: %v", e.Op, e.Err)
}

func (e *DatabaseAccessError) Unwrap() error { return e.Err }

func (e *DatabaseAccessError) Is(target error) bool { return target == ErrDatabaseAccess }

// FileAccessError reports an unreadable source table or media file.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("cannot access %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

func (e *FileAccessError) Is(target error) bool { return target == ErrFileAccess }

// CancelledError is returned when a cancellation request was observed.
type CancelledError struct {
	Step string
}

func (e *CancelledError) Error() string {
	if e.Step == "" {
		return "import cancelled"
	}
	return fmt.Sprintf("import cancelled at step %s", e.Step)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// CancellationRaceWarning describes a media file whose storage state diverged
// from the committed database state. It is logged, never returned as fatal.
type CancellationRaceWarning struct {
	Key string
	Err error
}

func (w *CancellationRaceWarning) Error() string {
	return fmt.Sprintf("media file %s out of sync with database: %v", w.Key, w.Err)
}

func (w *CancellationRaceWarning) Unwrap() error { return w.Err }

// Classify maps an import error to a stable code for exit paths and queue headers.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrConflictingCorpus):
		return "conflict"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrFileAccess):
		return "file_access"
	case errors.Is(err, ErrDatabaseAccess):
		return "database_access"
	default:
		return "internal"
	}
}

// DBError wraps err as a DatabaseAccessError unless it already carries a
// classification.
func DBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrFormat) ||
		errors.Is(err, ErrConflictingCorpus) || errors.Is(err, ErrFileAccess) ||
		errors.Is(err, ErrDatabaseAccess) {
		return err
	}
	return &DatabaseAccessError{Op: op, Err: err}
}
