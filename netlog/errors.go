package netlog

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidQuery = errors.New("invalid query")
	ErrNotFound     = errors.New("entry not found")
)

// StorageError reports an I/O failure of the entry store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage error: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Cause() error  { return e.Err }
func (e *StorageError) Unwrap() error { return e.Err }

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// CompressionError reports a codec failure while encoding a range result.
type CompressionError struct {
	Codec string
	Err   error
}

func (e *CompressionError) Error() string {
	return "compression failed: " + e.Codec + ": " + e.Err.Error()
}
func (e *CompressionError) Cause() error  { return e.Err }
func (e *CompressionError) Unwrap() error { return e.Err }

// ErrorMessage returns the text reported to clients for err.
func ErrorMessage(err error) string {
	var compressionErr *CompressionError
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return "Invalid query"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.As(err, &compressionErr):
		return "Compression failed"
	default:
		return err.Error()
	}
}

// isExpected reports whether err is a normal outcome of a client request
// rather than a server-side failure.
func isExpected(err error) bool {
	return errors.Is(err, ErrInvalidQuery) || errors.Is(err, ErrNotFound)
}
