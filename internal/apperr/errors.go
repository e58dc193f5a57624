// Package apperr defines the typed domain errors the core raises, each
// carrying the HTTP status the API layer maps it to. Core code never
// returns a bare string error for a business-level failure.
package apperr

import "fmt"

type NotFound struct {
	Resource string
	ID       string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s not found: %s", e.Resource, e.ID) }
func (e *NotFound) HTTPStatus() int { return 404 }

type Unauthenticated struct {
	Reason string
}

func (e *Unauthenticated) Error() string  { return e.Reason }
func (e *Unauthenticated) HTTPStatus() int { return 401 }

type Forbidden struct {
	Reason string
}

func (e *Forbidden) Error() string  { return e.Reason }
func (e *Forbidden) HTTPStatus() int { return 403 }

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string  { return e.Reason }
func (e *ValidationError) HTTPStatus() int { return 422 }

type InsufficientBalance struct {
	Ticker    string
	Required  int64
	Available int64
}

func (e *InsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %d, available %d", e.Ticker, e.Required, e.Available)
}
func (e *InsufficientBalance) HTTPStatus() int { return 400 }

type OrderExecutionError struct {
	Reason string
}

func (e *OrderExecutionError) Error() string  { return e.Reason }
func (e *OrderExecutionError) HTTPStatus() int { return 422 }

type Conflict struct {
	Reason string
}

func (e *Conflict) Error() string  { return e.Reason }
func (e *Conflict) HTTPStatus() int { return 422 }

// HTTPStatus returns the status code to surface for err, defaulting to 500
// for anything that isn't one of the typed kinds above.
func HTTPStatus(err error) int {
	type statuser interface{ HTTPStatus() int }
	if s, ok := err.(statuser); ok {
		return s.HTTPStatus()
	}
	return 500
}
