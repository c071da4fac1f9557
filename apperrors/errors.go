// Package apperrors defines the error taxonomy shared by the progress API,
// the retry dispatcher and the heartbeat client.
package apperrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotFoundError reports an unknown lesson, course or enrollment. Never retried.
type NotFoundError struct {
	Resource string
	ID       uint
}

func NewNotFound(resource string, id uint) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// AuthorizationError reports a user acting on a course they are not enrolled in.
// Never retried and never queued.
type AuthorizationError struct {
	UserID   uint
	CourseID uint
	Reason   string
}

func NewAuthorization(userID, courseID uint) error {
	return &AuthorizationError{UserID: userID, CourseID: courseID, Reason: "not enrolled"}
}

func (e *AuthorizationError) Error() string {
	if e.CourseID == 0 {
		return "not authorized: " + e.Reason
	}
	return fmt.Sprintf("user %d not authorized for course %d: %s", e.UserID, e.CourseID, e.Reason)
}

// FieldError is used to indicate an error with a specific payload field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError reports a malformed payload.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidation(msg string, flds ...FieldError) error {
	return &ValidationError{Err: errors.New(msg), Fields: flds}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

// FieldMap flattens the field errors into the {field: message} shape used by
// the API's validation responses.
func (e *ValidationError) FieldMap() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		out[f.Field] = f.Error
	}
	return out
}

// TransientDeliveryError wraps a network or 5xx-class failure that is worth retrying.
type TransientDeliveryError struct {
	StatusCode int
	Err        error
}

func NewTransient(statusCode int, err error) error {
	return &TransientDeliveryError{StatusCode: statusCode, Err: err}
}

func (e *TransientDeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient delivery failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientDeliveryError
	return errors.As(err, &target)
}

// IsPermanent reports whether err belongs to a class that must surface
// immediately: retrying or queueing it can never succeed.
func IsPermanent(err error) bool {
	return IsNotFound(err) || IsAuthorization(err) || IsValidation(err)
}
