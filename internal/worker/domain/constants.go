package domain

import "time"

// Worker defaults
const (
	DefaultConcurrency = 4
	DefaultJobTimeout  = 10 * time.Minute

	// ReportAttempts bounds retries of a status report to the engine.
	ReportAttempts = 3
	// ReportBackoff is the delay before the first report retry; it doubles.
	ReportBackoff = 200 * time.Millisecond
)
