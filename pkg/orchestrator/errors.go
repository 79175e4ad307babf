package orchestrator

import "errors"

// ErrOrchestratorFault wraps every unexpected failure inside the loop: agent errors, panics,
// invalid transitions. It is the only error that aborts a session.
var ErrOrchestratorFault = errors.New("orchestrator fault")

// ErrSessionNotFound is returned by registry lookups for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")
