package core

import "errors"

// Error taxonomy surfaced to API callers. Handlers map these with errors.Is
// so the UI can tell "already running" from "not found" from a real failure.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobAlreadyRunning = errors.New("job is already running")
	ErrDuplicateJob      = errors.New("job already registered")
)
