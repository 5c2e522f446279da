package componentstate

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrComponentStateNotFound = errors.New("component state not found")
	ErrDuplicateID            = errors.New("component id already exists")
	ErrNotOwner               = errors.New("component owned by another user")
	ErrInvalidContext         = errors.New("invalid correlation context")
)

// NotFoundError reports an id-keyed operation on a component that was never
// created, has been evicted, or was torn down.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrComponentStateNotFound, e.ID)
}

// Is makes errors.Is(err, ErrComponentStateNotFound) hold.
func (*NotFoundError) Is(target error) bool {
	return target == ErrComponentStateNotFound
}

// ExternalResourceError is returned by collectors when the platform-side
// resource could not be registered or released.
type ExternalResourceError struct {
	Op        string
	MessageID string
	Err       error
}

func (e *ExternalResourceError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("collector %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("collector %s for message %s: %v", e.Op, e.MessageID, e.Err)
}

func (e *ExternalResourceError) Unwrap() error { return e.Err }
