package fn

import (
	"errors"
	"fmt"
)

// CriticalError marks an error that must not be swallowed by the component
// that observed it, such as a recovered panic.
type CriticalError struct {
	Err error
}

// NewCriticalError creates a new CriticalError instance.
func NewCriticalError(err error) *CriticalError {
	return &CriticalError{Err: err}
}

// Error implements the error interface.
func (e *CriticalError) Error() string {
	return e.Err.Error()
}

// Unwrap implements the errors.Wrapper interface.
func (e *CriticalError) Unwrap() error {
	return e.Err
}

// ErrorAs behaves like errors.As without the need to declare a target
// variable first.
func ErrorAs[Target error](err error) bool {
	var targetErr Target

	return errors.As(err, &targetErr)
}

// Recover runs f and converts a panic raised inside it into a CriticalError.
func Recover(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewCriticalError(fmt.Errorf("recovered panic: %v", r))
		}
	}()

	return f()
}
