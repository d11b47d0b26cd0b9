package sectionsense

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrMalformedDocument = errors.New("malformed document")
)

// Transport failure talking to the portal
type NetworkError struct {
	Step string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Step, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// The portal did not answer within the request timeout
type TimeoutError struct {
	Step string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out during %s", e.Step)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// The portal answered with a page we don't recognise, the navigation or extraction may need updating
type ProtocolError struct {
	Step   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected portal response during %s: %s", e.Step, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// The portal rejected the credentials
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login failed: %s", e.Reason)
}

// Bad user supplied value
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// IsTransient reports whether err is expected to clear up on a later check
func IsTransient(err error) bool {
	var networkErr *NetworkError
	var timeoutErr *TimeoutError
	var protocolErr *ProtocolError
	return errors.As(err, &networkErr) || errors.As(err, &timeoutErr) || errors.As(err, &protocolErr)
}

// IsAuth reports whether err is a rejected login
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsValidation reports whether err is a rejected user supplied value
func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
