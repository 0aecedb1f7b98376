package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating an InlineError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *InlineError {
	if err == nil {
		return nil
	}

	var ie *InlineError
	if errors.As(err, &ie) {
		return &InlineError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       ie,
			Context:     ie.Context,
			Component:   ie.Component,
			Recoverable: ie.Recoverable,
		}
	}

	return &InlineError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeNetwork,
	}
}

// WrapNetwork wraps a transport failure for a single path.
func WrapNetwork(err error, path string) *InlineError {
	ie := Wrap(err, ErrorTypeNetwork, ErrCodeNetwork, "failed to fetch svg file")
	if ie != nil {
		ie.WithContext("path", path)
	}
	return ie
}

// WrapStorage wraps a durable storage failure (non-recoverable)
func WrapStorage(err error, message string) *InlineError {
	ie := Wrap(err, ErrorTypeIO, ErrCodeStorage, message)
	if ie != nil {
		ie.Recoverable = false
	}
	return ie
}

// WrapConfig wraps a configuration failure
func WrapConfig(err error, message string) *InlineError {
	ie := Wrap(err, ErrorTypeConfig, ErrCodeConfigInvalid, message)
	if ie != nil {
		ie.Recoverable = false
	}
	return ie
}

// Combine joins non-nil errors, returning nil when none remain
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}

	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return errors.Join(nonNil...)
	}
}
