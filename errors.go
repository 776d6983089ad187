package main

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies the expected, recoverable failure modes of the game
// core. Anything that is not a GameError (storage faults in particular) is
// treated as fatal to the in-flight operation and surfaces as a 500.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindState        ErrorKind = "state"
	KindConflict     ErrorKind = "conflict"
	KindNotFound     ErrorKind = "not_found"
	KindNotPermitted ErrorKind = "not_permitted"
)

// GameError carries a machine-readable kind and a human-readable message.
type GameError struct {
	Kind    ErrorKind
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

func errValidation(format string, args ...any) *GameError {
	return &GameError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func errState(format string, args ...any) *GameError {
	return &GameError{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

func errConflict(format string, args ...any) *GameError {
	return &GameError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...any) *GameError {
	return &GameError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func errNotPermitted(format string, args ...any) *GameError {
	return &GameError{Kind: KindNotPermitted, Message: fmt.Sprintf(format, args...)}
}

// errorStatus maps a game error to its HTTP status. Non-game errors are
// storage faults and map to 500.
func errorStatus(err error) int {
	var ge *GameError
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError
	}
	switch ge.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindNotPermitted:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
