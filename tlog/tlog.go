// Package tlog is a thin wrapper around logrus used by every Tortillas
// component that needs to report progress or failure.
package tlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Fields aliases logrus.Fields so callers never import logrus directly.
type Fields = logrus.Fields

// Logger is the interface every Tortillas component logs through. It is
// satisfied by component, the value returned by New and Named.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger

	// Named returns a child logger tagged with a "component" field,
	// mirroring the original get_logger(name, prefix=True) convention:
	// every line it emits carries component=name.
	Named(name string) Logger
}

type component struct {
	entry *logrus.Entry
}

var root = logrus.New()

// New returns the process-wide root logger. There is exactly one
// *logrus.Logger (and therefore one output sink) per process; every
// Logger returned by this package, directly or via Named, writes through
// it.
func New() Logger {
	return component{entry: logrus.NewEntry(root)}
}

// Named returns a logger tagged with a "component" field set to name, so
// each of its lines carries component=name alongside the message.
func Named(name string) Logger {
	return New().Named(name)
}

// SetLevel parses level (debug, info, warn, error) and applies it to the
// process-wide root logger. Returns an error for an unrecognized level so
// callers can treat a bad tortillas_config.yml log_level as a config error.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	root.SetLevel(lvl)
	return nil
}

// SetOutput redirects every Logger's output, mainly used by tests that
// want to assert on log content instead of writing to stderr.
func SetOutput(w io.Writer) {
	root.SetOutput(w)
}

func (c component) Debug(args ...interface{})                 { c.entry.Debug(args...) }
func (c component) Debugf(f string, args ...interface{})      { c.entry.Debugf(f, args...) }
func (c component) Info(args ...interface{})                  { c.entry.Info(args...) }
func (c component) Infof(f string, args ...interface{})       { c.entry.Infof(f, args...) }
func (c component) Warn(args ...interface{})                  { c.entry.Warn(args...) }
func (c component) Warnf(f string, args ...interface{})       { c.entry.Warnf(f, args...) }
func (c component) Error(args ...interface{})                 { c.entry.Error(args...) }
func (c component) Errorf(f string, args ...interface{})      { c.entry.Errorf(f, args...) }
func (c component) Fatal(args ...interface{})                 { c.entry.Fatal(args...) }
func (c component) Fatalf(f string, args ...interface{})      { c.entry.Fatalf(f, args...) }

func (c component) WithField(key string, value interface{}) Logger {
	return component{entry: c.entry.WithField(key, value)}
}

func (c component) WithFields(fields Fields) Logger {
	return component{entry: c.entry.WithFields(fields)}
}

func (c component) Named(name string) Logger {
	return c.WithField("component", name)
}
