package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueEmpty is returned by a manual post when nothing is queued.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrFolderNotFound is returned when a named folder is not in the content root.
	ErrFolderNotFound = errors.New("folder not found")
	// ErrFolderBusy is returned when the folder is already being published.
	ErrFolderBusy = errors.New("folder is already being published")
	// ErrSyncDisabled is returned by sync operations when no remote is configured.
	ErrSyncDisabled = errors.New("remote sync is not configured")
)

// SchedulerError reports an invalid or failed scheduler operation. Failures
// from collaborators are wrapped, so errors.As still finds the underlying
// content, publish or state error.
type SchedulerError struct {
	Op     string
	Folder string
	Err    error
}

func (e *SchedulerError) Error() string {
	if e.Folder != "" {
		return fmt.Sprintf("scheduler: %s %s: %v", e.Op, e.Folder, e.Err)
	}
	return fmt.Sprintf("scheduler: %s: %v", e.Op, e.Err)
}

func (e *SchedulerError) Unwrap() error { return e.Err }

func schedErr(op, folder string, err error) error {
	return &SchedulerError{Op: op, Folder: folder, Err: err}
}
