// Package errors provides the structured error type shared by every stage of
// the inlining pipeline, together with the error codes and helpers used to
// classify failures as configuration, capability, validation, network or
// state errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeCapability ErrorType = "capability"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeState      ErrorType = "state"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeConfigInvalid          = "ERR_CONFIG_INVALID"
	ErrCodeCapabilityUnavailable  = "ERR_CAPABILITY_UNAVAILABLE"
	ErrCodeInvalidPath            = "ERR_INVALID_PATH"
	ErrCodeMalformedAttributeName = "ERR_MALFORMED_ATTRIBUTE_NAME"
	ErrCodeMalformedSVG           = "ERR_MALFORMED_SVG"
	ErrCodeMalformedMarkup        = "ERR_MALFORMED_MARKUP"
	ErrCodeMissingSource          = "ERR_MISSING_SOURCE"
	ErrCodeMissingParent          = "ERR_MISSING_PARENT"
	ErrCodeAttributeAlreadyExists = "ERR_ATTRIBUTE_ALREADY_EXISTS"
	ErrCodeUnexpectedStatus       = "ERR_UNEXPECTED_RESPONSE_STATUS"
	ErrCodeNetwork                = "ERR_NETWORK"
	ErrCodeStorage                = "ERR_STORAGE"
	ErrCodeContainerAlreadyExists = "ERR_CONTAINER_ALREADY_EXISTS"
	ErrCodeObserverAlreadyExists  = "ERR_OBSERVER_ALREADY_EXISTS"
	ErrCodeMultipleDirectives     = "ERR_MULTIPLE_DIRECTIVES"
	ErrCodeInternalError          = "ERR_INTERNAL"
)

// Sentinel values for errors.Is. Comparison matches on type and code, so any
// error built by the constructors below matches its sentinel.
var (
	ErrConfigInvalid          = &InlineError{Type: ErrorTypeConfig, Code: ErrCodeConfigInvalid}
	ErrCapabilityUnavailable  = &InlineError{Type: ErrorTypeCapability, Code: ErrCodeCapabilityUnavailable}
	ErrInvalidPath            = &InlineError{Type: ErrorTypeValidation, Code: ErrCodeInvalidPath}
	ErrMalformedAttributeName = &InlineError{Type: ErrorTypeValidation, Code: ErrCodeMalformedAttributeName}
	ErrMalformedSVG           = &InlineError{Type: ErrorTypeValidation, Code: ErrCodeMalformedSVG}
	ErrMalformedMarkup        = &InlineError{Type: ErrorTypeValidation, Code: ErrCodeMalformedMarkup}
	ErrMissingSource          = &InlineError{Type: ErrorTypeValidation, Code: ErrCodeMissingSource}
	ErrMissingParent          = &InlineError{Type: ErrorTypeValidation, Code: ErrCodeMissingParent}
	ErrAttributeAlreadyExists = &InlineError{Type: ErrorTypeValidation, Code: ErrCodeAttributeAlreadyExists}
	ErrUnexpectedStatus       = &InlineError{Type: ErrorTypeNetwork, Code: ErrCodeUnexpectedStatus}
	ErrNetwork                = &InlineError{Type: ErrorTypeNetwork, Code: ErrCodeNetwork}
	ErrStorage                = &InlineError{Type: ErrorTypeIO, Code: ErrCodeStorage}
	ErrContainerAlreadyExists = &InlineError{Type: ErrorTypeState, Code: ErrCodeContainerAlreadyExists}
	ErrObserverAlreadyExists  = &InlineError{Type: ErrorTypeState, Code: ErrCodeObserverAlreadyExists}
	ErrMultipleDirectives     = &InlineError{Type: ErrorTypeState, Code: ErrCodeMultipleDirectives}
)

// InlineError is a structured error type with context.
type InlineError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *InlineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *InlineError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *InlineError) Is(target error) bool {
	var t *InlineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *InlineError) WithContext(key string, value interface{}) *InlineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *InlineError) WithComponent(component string) *InlineError {
	e.Component = component

	return e
}

// Error creation functions

// NewConfigError creates a configuration error. Configuration errors abort
// installation.
func NewConfigError(code, message string) *InlineError {
	return &InlineError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewCapabilityError creates a capability error for a missing runtime feature.
func NewCapabilityError(feature, message string) *InlineError {
	return (&InlineError{
		Type:        ErrorTypeCapability,
		Code:        ErrCodeCapabilityUnavailable,
		Message:     message,
		Recoverable: false,
	}).WithContext("feature", feature)
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *InlineError {
	return &InlineError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(code, message string, cause error) *InlineError {
	return &InlineError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewStateError creates an error signalling integration misuse.
func NewStateError(code, message string) *InlineError {
	return &InlineError{
		Type:        ErrorTypeState,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *InlineError {
	return &InlineError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *InlineError {
	return &InlineError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Helper functions for common errors

// InvalidPath reports a source path that is not an SVG file name.
func InvalidPath(path string) *InlineError {
	return NewValidationError(ErrCodeInvalidPath, fmt.Sprintf("argument is not valid [path=%q]", path)).
		WithContext("path", path)
}

// MalformedAttributeName reports an attribute name that fails validation.
func MalformedAttributeName(name string) *InlineError {
	return NewValidationError(ErrCodeMalformedAttributeName, fmt.Sprintf("attribute name is not valid [attribute=%q]", name)).
		WithContext("attribute", name)
}

// MalformedSVG reports content without a top level svg element.
func MalformedSVG(path string) *InlineError {
	return NewValidationError(ErrCodeMalformedSVG, fmt.Sprintf("content is not a valid svg document [path=%q]", path)).
		WithContext("path", path)
}

// MalformedMarkup reports a markup string that cannot become a single node.
func MalformedMarkup(reason string) *InlineError {
	return NewValidationError(ErrCodeMalformedMarkup, "markup is not valid: "+reason)
}

// MissingSource reports an element without data-src or src.
func MissingSource() *InlineError {
	return NewValidationError(ErrCodeMissingSource, "missing required element property [data-src || src]")
}

// MissingParent reports a replacement target detached from the tree.
func MissingParent() *InlineError {
	return NewValidationError(ErrCodeMissingParent, "missing required node property [parent]")
}

// AttributeAlreadyExists reports an add or data rule colliding with an
// attribute that cannot be merged.
func AttributeAlreadyExists(name string) *InlineError {
	return NewValidationError(ErrCodeAttributeAlreadyExists, fmt.Sprintf("can not add attribute, attribute already exists [%s]", name)).
		WithContext("attribute", name)
}

// UnexpectedStatus reports a response status other than 200 or 304.
func UnexpectedStatus(path string, status int) *InlineError {
	return NewNetworkError(ErrCodeUnexpectedStatus, fmt.Sprintf("wrong response status [response.status=%d]", status), nil).
		WithContext("path", path).
		WithContext("status", status)
}

// ContainerAlreadyExists reports a second symbol container creation.
func ContainerAlreadyExists() *InlineError {
	return NewStateError(ErrCodeContainerAlreadyExists, "can not create svg symbol container node, container node already exists")
}

// ObserverAlreadyExists reports a second visibility observer creation.
func ObserverAlreadyExists() *InlineError {
	return NewStateError(ErrCodeObserverAlreadyExists, "can not create intersection observer, observer already exists")
}

// MultipleDirectives reports more than one directive bound to one element.
func MultipleDirectives(names []string) *InlineError {
	return NewStateError(ErrCodeMultipleDirectives, fmt.Sprintf("node has more than 1 directive %v", names)).
		WithContext("directives", names)
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var ie *InlineError
	if errors.As(err, &ie) {
		return ie.Recoverable
	}

	return false
}

// TypeOf returns the error type of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var ie *InlineError
	if errors.As(err, &ie) {
		return ie.Type
	}

	return ErrorTypeInternal
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level chosen from its type. Extra fields are
// appended to the log entry.
func (h *ErrorHandler) Handle(ctx context.Context, err error, fields ...interface{}) {
	if err == nil || h.logger == nil {
		return
	}

	var ie *InlineError
	if !errors.As(err, &ie) {
		h.logger.Error(ctx, err, "Unhandled error occurred", fields...)
		return
	}

	fields = append(fields, "type", ie.Type, "code", ie.Code)
	switch ie.Type {
	case ErrorTypeValidation, ErrorTypeNetwork:
		h.logger.Warn(ctx, err, "Element processing failed", fields...)
	case ErrorTypeCapability:
		h.logger.Warn(ctx, err, "Feature is not supported", fields...)
	default:
		h.logger.Error(ctx, err, "Error occurred", fields...)
	}
}
