package app

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRole means the configuration carries no role
	ErrNoRole = errors.New("no role configured")

	// ErrUnknownRole means the role is not one of the known node roles
	ErrUnknownRole = errors.New("unknown role")

	// ErrManagerConstruction means the role's manager could not be built
	ErrManagerConstruction = errors.New("manager construction failed")

	// ErrTerminated is returned by Startup after Shutdown
	ErrTerminated = errors.New("application terminated")
)

// DispatchError describes a failed role dispatch. Reason is one of
// ErrNoRole, ErrUnknownRole or ErrManagerConstruction.
type DispatchError struct {
	Role   string
	Reason error
	Err    error
}

func (e *DispatchError) Error() string {
	msg := "role dispatch failed: " + e.Reason.Error()
	if e.Role != "" {
		msg += fmt.Sprintf(" (role %q)", e.Role)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}
