package flow

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is what the flow packages log through. It is satisfied by a logrus
// logger or entry, and GoLog adapts a stdlib logger to it.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
	Fatalf(string, ...interface{})
}

type ctxKey uint8

const loggerKey ctxKey = iota

// NopLogger drops every message on the floor, except for Fatalf which still exits.
var NopLogger Logger = &nopLogger{}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatalf(string, ...interface{}) { os.Exit(1) }

// GoLog creates a leveled logger on top of the go stdlib logger.
// When w is nil the logger writes to stderr.
func GoLog(w io.Writer, prefix string, flags int) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &goLogger{log.New(w, prefix, flags)}
}

type goLogger struct {
	*log.Logger
}

func (g *goLogger) Debugf(format string, args ...interface{}) {
	g.Printf("[DEBUG] "+format, args...)
}

func (g *goLogger) Infof(format string, args ...interface{}) {
	g.Printf("[INFO]  "+format, args...)
}

func (g *goLogger) Warnf(format string, args ...interface{}) {
	g.Printf("[WARN]  "+format, args...)
}

func (g *goLogger) Errorf(format string, args ...interface{}) {
	g.Printf("[ERROR] "+format, args...)
}

func (g *goLogger) Fatalf(format string, args ...interface{}) {
	g.Logger.Fatalf("[FATAL] "+format, args...)
}

// Logrus uses the provided logrus logger or entry, a nil value uses the logrus standard logger.
func Logrus(l logrus.FieldLogger) Logger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}

// SetLogger on the context so it can be picked up by flows started with that context
func SetLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// ContextLogger gets the logger from the context, returns the NopLogger when none is set
func ContextLogger(ctx context.Context) Logger {
	if ctx == nil {
		return NopLogger
	}
	if l, ok := ctx.Value(loggerKey).(Logger); ok && l != nil {
		return l
	}
	return NopLogger
}
