package communication

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("communication not found")
	ErrAlreadySent    = errors.New("communication has already been sent")
	ErrCourseNotFound = errors.New("course not found")
)

// DispatchError reports a dispatch that did not succeed. The communication was not marked sent.
type DispatchError struct {
	Result SendResult
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("error sending communication: %s", e.Result.Message)
}
