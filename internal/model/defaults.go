package model

import "time"

// Shared defaults used by both the service and TUI binaries.
const (
	DefaultTimeoutSeconds = 60
	DefaultUpdateInterval = 2 * time.Second
	DefaultLogBuffer      = 500
	DefaultEventBuffer    = 256
)
