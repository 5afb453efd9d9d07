// Package apierr pairs an error with the HTTP status and machine-readable
// code the handler layer should respond with, so services decide the outcome
// without importing gin.
package apierr

import (
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// DB wraps a persistence failure as a plain 500. Most repo errors end up
// here.
func DB(err error) *Error {
	return New(http.StatusInternalServerError, "DB_ERROR", err)
}

// NotFound wraps a lookup miss for a resource the caller does not own or
// that does not exist.
func NotFound(err error) *Error {
	return New(http.StatusNotFound, "NOT_FOUND", err)
}
