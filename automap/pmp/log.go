package pmp

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger assigns a subsystem logger for this package's diagnostic
// output, mirroring dcrlnd's per-package UseLogger hooks.
func UseLogger(logger slog.Logger) { log = logger }
