package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/treesync/internal/synctree"
)

// ErrClosed is returned by calls made after the engine stopped.
var ErrClosed = errors.New("engine closed")

// WriteError reports a user write the server rejected.
//
// The optimistic state of the write is reverted before the error reaches
// the write's completion callback. The engine never retries a write.
type WriteError struct {
	// Code is the status the server answered with, e.g. "permission_denied".
	Code string

	// WriteID identifies the rejected write.
	WriteID int64
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write %d rejected: %s", e.WriteID, e.Code)
}

// IsWriteError returns true if the error is a rejected write.
// Uses errors.As to handle wrapped errors.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

// ListenError reports a listen the server refused. Every registration of
// the query receives it in a cancel event.
type ListenError = synctree.ListenError

// IsListenError returns true if the error is a refused listen.
func IsListenError(err error) bool {
	return synctree.IsListenError(err)
}
