package drive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a file cannot be located or has no download URL.
	ErrNotFound = errors.New("file not found or download URL missing")

	// ErrListFailed is returned when a folder listing could not be retrieved.
	ErrListFailed = errors.New("failed to list drive items")

	// ErrTooLarge is returned when a download exceeds the configured size cap.
	ErrTooLarge = errors.New("file exceeds download size limit")
)

// DownloadError reports a failed file download. StatusCode is set when the
// server answered with a non-200 status.
type DownloadError struct {
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("download failed: %v", e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
