// Package common provides shared constants, types, and utilities
// used across the VPN Guard application.
package common

import "errors"

// Sentinel errors for VPN operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Connection lifecycle errors.
	ErrInvalidTransition = errors.New("action not valid in current connection state")
	ErrConnectTimeout    = errors.New("connection attempt timed out")
	ErrDisconnectTimeout = errors.New("disconnect timed out")
	ErrTunnelStart       = errors.New("failed to start tunnel")
	ErrCancelled         = errors.New("operation cancelled")

	// Kill-switch errors.
	ErrFirewallApplyFailed    = errors.New("firewall block could not be applied")
	ErrFirewallUnavailable    = errors.New("no usable firewall backend found")
	ErrPersistenceWriteFailed = errors.New("kill-switch state could not be persisted")

	// Profile errors.
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidConfig   = errors.New("invalid configuration file")
	ErrDuplicateName   = errors.New("profile name already exists")
	ErrInvalidProfile  = errors.New("invalid profile data")

	// Permission errors.
	ErrRootRequired = errors.New("root privileges required")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
