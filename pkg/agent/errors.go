package agent

import "errors"

var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState indicates an invalid state was provided.
	ErrInvalidState = errors.New("invalid state")

	// ErrMissingInput indicates a Step was called without the input its agent needs.
	ErrMissingInput = errors.New("missing agent input")

	// ErrUnknownKind indicates an agent kind outside the closed enumeration.
	ErrUnknownKind = errors.New("unknown agent kind")
)
