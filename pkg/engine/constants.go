package engine

import "time"

// Default configuration constants for the validation engine and runner.
const (
	// DefaultConcurrency is the number of (rule, column) tasks evaluated in
	// parallel by one validation run.
	DefaultConcurrency = 8

	// DefaultStopTimeout bounds how long Runner.Stop waits for an in-flight
	// validation to observe cancellation.
	DefaultStopTimeout = 5 * time.Second
)

// Runner states reported by Status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateError   = "error"
)
