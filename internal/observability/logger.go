package observability

import "github.com/audiolens/masterqc/internal/logging"

// Package-level cached logger instance.
// All logging in this package should use this variable.
var log = logging.ForService("telemetry")
