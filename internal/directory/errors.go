package directory

import (
	"errors"
	"fmt"
)

// Terminal join rejections reported by the authority. These are never
// retried by this layer; the caller sees exactly what the authority said.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrRoomClosed   = errors.New("room closed")
	ErrNotReady     = errors.New("identity session not ready")
)

// DirectoryError wraps a transient or authority-side create/join failure
// that is not one of the terminal rejections above.
type DirectoryError struct {
	Op  string
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory %s: %v", e.Op, e.Err)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}
