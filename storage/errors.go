package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransientIO matches any error classified as retryable.
	ErrTransientIO = errors.New("transient storage failure")
	// ErrPermanentIO matches any error classified as non-retryable.
	ErrPermanentIO = errors.New("permanent storage failure")
	// ErrStaleVersion is returned when a write carries a lower version than the stored record.
	ErrStaleVersion = errors.New("stale record version")
	// ErrCorrupt is returned when a stored record cannot be decoded or unsealed.
	ErrCorrupt = errors.New("corrupt record")
	// ErrClosed is returned by backends used after Close.
	ErrClosed = errors.New("backend closed")
)

// ErrorClass tells the retry policy whether a failure may succeed on retry.
type ErrorClass uint8

const (
	ClassPermanent ErrorClass = iota
	ClassTransient
)

func (c ErrorClass) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "permanent"
}

// Error is the classified failure every backend returns.
type Error struct {
	Tier  Tier
	Op    string
	Class ErrorClass
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Tier, e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the class sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransientIO:
		return e.Class == ClassTransient
	case ErrPermanentIO:
		return e.Class == ClassPermanent
	}
	return false
}

// Transient wraps err as a retryable failure of op on tier.
func Transient(tier Tier, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Tier: tier, Op: op, Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure of op on tier.
func Permanent(tier Tier, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Tier: tier, Op: op, Class: ClassPermanent, Err: err}
}

// ClassOf returns the class of err. Timeouts and network errors that were not
// classified by a backend count as transient, anything else as permanent.
func ClassOf(err error) ErrorClass {
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	if isTimeoutOrNetwork(err) {
		return ClassTransient
	}
	return ClassPermanent
}

// Classify wraps an unclassified error using ClassOf. Errors that already
// carry a class pass through untouched.
func Classify(tier Tier, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if isTimeoutOrNetwork(err) {
		return Transient(tier, op, err)
	}
	return Permanent(tier, op, err)
}

func isTimeoutOrNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
