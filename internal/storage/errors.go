package storage

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFailed  = errors.New("storage: connection failed")
	ErrQueryFailed       = errors.New("storage: query failed")
	ErrBatchInsertFailed = errors.New("storage: batch insert failed")
	ErrNotFound          = errors.New("storage: not found")
	ErrTimeout           = errors.New("storage: operation timeout")
)

// StorageError carries the failing operation and table alongside the
// underlying error.
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRetryable reports whether retrying could help. Connection drops
// and timeouts qualify, query and shape errors do not.
func IsRetryable(err error) bool {
	return IsConnectionError(err) || IsTimeout(err)
}

func WrapConnectionError(op string, err error) error {
	return &StorageError{Op: op, Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err)}
}

func WrapQueryError(op, table string, err error) error {
	return &StorageError{Op: op, Table: table, Err: fmt.Errorf("%w: %v", ErrQueryFailed, err)}
}

func WrapNotFoundError(op, table, id string) error {
	return &StorageError{Op: op, Table: table, Err: fmt.Errorf("%w: id=%s", ErrNotFound, id)}
}
