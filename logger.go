package bgpspeak

import "github.com/sirupsen/logrus"

// Logger is the logging contract a host injects into a Session. It is
// satisfied directly by *logrus.Logger and *logrus.Entry, matching how
// logrus.FieldLogger is consumed throughout osrg/gobgp's server and table
// packages. The teacher (jwhited/corebgp) injects a bare
// `func(...interface{})`; this keeps that host-injected shape but types it
// against a real structured logger instead of a loose variadic func.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NewDefaultLogger returns a logrus-backed Logger writing at info level.
func NewDefaultLogger() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return l
}

// nopLogger discards everything; used when a Session is constructed without
// WithLogger.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
