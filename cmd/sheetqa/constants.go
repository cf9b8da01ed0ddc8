package main

import "time"

// Default configuration constants for cmd/sheetqa.
const (
	// DefaultIssueLimit is the number of issues printed by validate unless
	// --limit is given. Zero or less prints everything.
	DefaultIssueLimit = 200

	// DefaultLogLimit is the number of action log entries printed by log.
	DefaultLogLimit = 20

	// DefaultSearchLimit is the result count for search.
	DefaultSearchLimit = 20

	// DefaultMessageWidth truncates messages in table output.
	DefaultMessageWidth = 60

	// DefaultValueWidth truncates cell values in table output.
	DefaultValueWidth = 30

	// DefaultServeAddr is where serve listens unless --addr is given.
	DefaultServeAddr = "localhost:8765"

	// DefaultShutdownTimeout is how long serve waits for in-flight
	// requests during shutdown.
	DefaultShutdownTimeout = 5 * time.Second

	// vocabCacheName is the vocabulary disk cache, next to the database.
	vocabCacheName = "vocab-cache.json"
)
