// Package masqlog wires every subsystem's logger to a single rotating
// backend, the way github.com/decred/dcrlnd's build package wires
// dcrlnd's per-package loggers to a shared log file.
package masqlog

import (
	"fmt"
	"io"
	"os"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags used as the four-character prefix on every log line,
// mirroring dcrlnd's AMAP/PCP subsystem tag convention.
const (
	SubsystemAutomap  = "AMAP"
	SubsystemPCP      = "PCP "
	SubsystemPMP      = "PMP "
	SubsystemUPnP     = "UPNP"
	SubsystemHousekeeping = "HKPR"
	SubsystemAdjuster = "PADJ"
)

// Registerer is satisfied by every package that exposes a UseLogger hook.
type Registerer interface {
	UseLogger(logger slog.Logger)
}

// Backend owns the rotating log file and hands out per-subsystem loggers.
type Backend struct {
	rotator *rotator.Rotator
	level   slog.Level
}

// NewBackend opens (or creates) a rotating log file at logPath. Passing an
// empty logPath disables file output; logs still go to stdout.
func NewBackend(logPath string, maxRolls int, level slog.Level) (*Backend, error) {
	b := &Backend{level: level}
	if logPath == "" {
		return b, nil
	}
	r, err := rotator.New(logPath, 10*1024, false, maxRolls)
	if err != nil {
		return nil, fmt.Errorf("masqlog: failed to create log rotator: %w", err)
	}
	b.rotator = r
	return b, nil
}

// Logger returns a new leveled logger tagged with subsystem, writing to
// both stdout and the rotating backend.
func (b *Backend) Logger(subsystem string) slog.Logger {
	var w io.Writer = os.Stdout
	if b.rotator != nil {
		w = io.MultiWriter(os.Stdout, b.rotator)
	}
	backend := slog.NewBackend(w)
	l := backend.Logger(subsystem)
	l.SetLevel(b.level)
	return l
}

// Wire assigns a subsystem logger to every registered package in one call,
// the analogue of dcrlnd's SetLogLevels/InitLogRotator entrypoint.
func (b *Backend) Wire(registrations map[string]Registerer) {
	for subsystem, pkg := range registrations {
		pkg.UseLogger(b.Logger(subsystem))
	}
}

// Close flushes and closes the rotating backend, if any.
func (b *Backend) Close() error {
	if b.rotator == nil {
		return nil
	}
	return b.rotator.Close()
}
