package store

import "fmt"

// NotFoundError indicates the resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness violation reported by the store.
type ConflictError struct {
	Message string
	Code    string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// InvariantError indicates a request that would break a data invariant,
// such as a second draft for the same author.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return e.Message
}

// ForbiddenError indicates an authorization rule rejected a write.
type ForbiddenError struct {
	Kind      string
	Operation string
}

func (e *ForbiddenError) Error() string {
	if e.Kind == "" {
		return "forbidden"
	}
	return fmt.Sprintf("forbidden: %s %s", e.Operation, e.Kind)
}
