package lockstore

import (
	"errors"
	"fmt"
)

// ErrAlreadyLocked reports that a live holder owns the lock.
var ErrAlreadyLocked = errors.New("process lock already held")

// StorageError wraps a filesystem failure on the lock artifact.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("lock %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}
