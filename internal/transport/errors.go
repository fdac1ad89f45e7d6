package transport

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRejected = errors.New("message rejected")

// RejectedError reports a submission the provider refused or that could not
// reach it.
type RejectedError struct {
	Recipients []string
	Cause      error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("sending to %s rejected: %v", strings.Join(e.Recipients, ", "), e.Cause)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

func (e *RejectedError) Unwrap() error {
	return e.Cause
}

func Rejected(recipients []string, cause error) error {
	return &RejectedError{Recipients: recipients, Cause: cause}
}
