// Package logging provides module-tagged structured logging for gbcore's
// subsystems, built on logrus. Modules exist so a mapper-detection warning
// and a savestate version mismatch can be told apart at a glance without
// grepping message text, and so any one subsystem's verbosity can be turned
// up independently of the rest.
//
// This is diagnostic logging only: startup messages, mapper detection,
// savestate load/save problems, and debugger break events. It is never used
// for per-instruction CPU tracing — that volume belongs in the debugger's
// own static/dynamic tracer (internal/debugger), not in a log sink.
package logging

import (
	"io"
	"os"

	"gopkg.in/Sirupsen/logrus.v0"
)

// Module identifies the subsystem a log line came from. Modules are tagged
// on every Entry as a "module" field rather than folded into the message,
// the way arl-nestor/emu/log.Module tags entries with "_mod".
type Module uint

const (
	ModGameboy Module = iota + 1
	ModCPU
	ModPPU
	ModAPU
	ModMapper
	ModBus
	ModTimer
	ModSerial
	ModDebugger
	ModRewind

	endStandardModules
)

var moduleCount = endStandardModules

var moduleNames = []string{
	"<error>", "gameboy", "cpu", "ppu", "apu", "mapper", "bus", "timer", "serial", "debugger", "rewind",
}

// NewModule registers an additional module beyond the standard set, for a
// caller (e.g. a future front end) that wants its own log tag.
func NewModule(name string) Module {
	mod := moduleCount
	moduleCount++
	moduleNames = append(moduleNames, name)
	return mod
}

func (m Module) String() string {
	if int(m) < len(moduleNames) {
		return moduleNames[m]
	}
	return "<unknown>"
}

var std = logrus.New()

func init() {
	std.Formatter = &logrus.TextFormatter{}
	std.Out = os.Stderr
	std.Level = logrus.InfoLevel
}

// Level mirrors logrus's level enum so internal/config can set one from a
// TOML string without importing logrus directly.
type Level uint32

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

// SetLevel adjusts the minimum level emitted by every module. internal/config
// calls this once at startup from the parsed log_level TOML field.
func SetLevel(lvl Level) { std.Level = logrus.Level(lvl) }

// SetOutput redirects where log lines are written; tests use this to capture
// output instead of spamming stderr.
func SetOutput(w io.Writer) { std.Out = w }

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]any

// Entry is a module-scoped, chainable log record. The zero Entry is not
// usable; obtain one via a Module's With* methods or the package-level
// helpers below.
type Entry struct {
	mod    Module
	fields Fields
}

// With returns an Entry scoped to mod with no fields set yet.
func With(mod Module) Entry { return Entry{mod: mod} }

func (e Entry) WithField(key string, value any) Entry {
	f := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		f[k] = v
	}
	f[key] = value
	return Entry{mod: e.mod, fields: f}
}

func (e Entry) WithFields(fields Fields) Entry {
	f := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		f[k] = v
	}
	for k, v := range fields {
		f[k] = v
	}
	return Entry{mod: e.mod, fields: f}
}

func (e Entry) entry() *logrus.Entry {
	le := std.WithField("module", e.mod.String())
	if len(e.fields) > 0 {
		le = le.WithFields(logrus.Fields(e.fields))
	}
	return le
}

func (e Entry) Debugf(format string, args ...any) { e.entry().Debugf(format, args...) }
func (e Entry) Infof(format string, args ...any)  { e.entry().Infof(format, args...) }
func (e Entry) Warnf(format string, args ...any)  { e.entry().Warnf(format, args...) }
func (e Entry) Errorf(format string, args ...any) { e.entry().Errorf(format, args...) }
func (e Entry) Fatalf(format string, args ...any) { e.entry().Fatalf(format, args...) }

func (e Entry) Debug(args ...any) { e.entry().Debug(args...) }
func (e Entry) Info(args ...any)  { e.entry().Info(args...) }
func (e Entry) Warn(args ...any)  { e.entry().Warn(args...) }
func (e Entry) Error(args ...any) { e.entry().Error(args...) }
