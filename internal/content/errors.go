package content

import (
	"errors"
	"fmt"
)

// Sentinel errors for content folders.
var (
	// ErrFolderNotFound is returned when a content folder does not exist.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrNotDirectory is returned when a content path is a regular file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNoImages is returned when a folder holds no .jpg, .jpeg or .png file.
	ErrNoImages = errors.New("no valid images")

	// ErrTooManySlides is returned when a folder holds more images than a
	// single album or story set can take.
	ErrTooManySlides = errors.New("too many images")

	// ErrInvalidName is returned for folder names that could escape the
	// content root or that name a reserved directory.
	ErrInvalidName = errors.New("invalid folder name")
)

// ContentError reports a bad content folder or image. The scheduler skips the
// folder on a scheduled trigger and returns the error on a manual post.
type ContentError struct {
	Folder string
	Err    error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content %s: %v", e.Folder, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

func contentErr(folder string, err error) error {
	return &ContentError{Folder: folder, Err: err}
}
