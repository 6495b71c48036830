// Package apperr holds the error classes shared by the services. Domain errors
// wrap one of the classes so the HTTP layer can pick a status code with errors.Is.
package apperr

import "errors"

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
	ErrTransport   = errors.New("transport failure")
)

type classified struct {
	msg   string
	class error
}

func (e *classified) Error() string { return e.msg }

func (e *classified) Unwrap() error { return e.class }

// Validation returns an error with msg as its text that matches ErrValidation.
func Validation(msg string) error {
	return &classified{msg: msg, class: ErrValidation}
}

// NotFound returns an error with msg as its text that matches ErrNotFound.
func NotFound(msg string) error {
	return &classified{msg: msg, class: ErrNotFound}
}
