package store

import "fmt"

// NotFoundError reports that a named entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// ConflictError reports a uniqueness or state conflict (spec.md §7).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// InvariantViolationError reports a data-model invariant the Store refused
// to let a write violate (spec.md §3, §7).
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string { return "invariant violation: " + e.Reason }

// BusyError reports that the exclusive writer could not be acquired before
// the caller's deadline (spec.md §4.1).
type BusyError struct{}

func (e *BusyError) Error() string { return "writer busy" }

// NotFound constructs a NotFoundError.
func NotFound(entity, id string) error { return &NotFoundError{Entity: entity, ID: id} }

// Conflict constructs a ConflictError.
func Conflict(reason string) error { return &ConflictError{Reason: reason} }

// InvariantViolation constructs an InvariantViolationError.
func InvariantViolation(reason string) error { return &InvariantViolationError{Reason: reason} }

// Busy is the sentinel returned when the writer could not be acquired.
var Busy = &BusyError{}
