// Package errs provides the error types handlers return to the error
// middleware.
package errs

import (
	"errors"
	"fmt"
)

// Response is the body of every failed API call.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is an error whose message is safe to send to the caller, with the
// HTTP status to send it with.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps err with the status the caller receives.
func NewTrusted(err error, status int) error {
	return &Trusted{Err: err, Status: status}
}

// NewTrustedf formats a message into a trusted error.
func NewTrustedf(status int, format string, args ...any) error {
	return &Trusted{Err: fmt.Errorf(format, args...), Status: status}
}

// Error implements the error interface.
func (te *Trusted) Error() string {
	return te.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (te *Trusted) Unwrap() error {
	return te.Err
}

// IsTrusted reports whether a trusted error is in the chain of err.
func IsTrusted(err error) bool {
	var te *Trusted
	return errors.As(err, &te)
}

// GetTrusted returns the trusted error in the chain of err, or nil.
func GetTrusted(err error) *Trusted {
	var te *Trusted
	if !errors.As(err, &te) {
		return nil
	}
	return te
}
