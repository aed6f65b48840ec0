package elk

import (
	"log"
	"time"

	"go.uber.org/zap"
)

// Statter is the interface that stats collectors must implement to get stats
// out of the pipeline.
type Statter interface {
	Count(name string, value int64, rate float64, tags ...string)
	Gauge(name string, value float64, rate float64, tags ...string)
	Histogram(name string, value float64, rate float64, tags ...string)
	Set(name string, value string, rate float64, tags ...string)
	Timing(name string, value time.Duration, rate float64, tags ...string)
}

// NopStatter does nothing.
type NopStatter struct{}

// Count does nothing.
func (NopStatter) Count(name string, value int64, rate float64, tags ...string) {}

// Gauge does nothing.
func (NopStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram does nothing.
func (NopStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set does nothing.
func (NopStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing does nothing.
func (NopStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}

// Logger is the interface that loggers must implement to get pipeline logs.
// Warnf is for degraded results which don't stop the pipeline, such as an
// identity that couldn't be resolved.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
}

// NopLogger logs nothing.
type NopLogger struct{}

// Printf does nothing.
func (NopLogger) Printf(format string, v ...interface{}) {}

// Debugf does nothing.
func (NopLogger) Debugf(format string, v ...interface{}) {}

// Warnf does nothing.
func (NopLogger) Warnf(format string, v ...interface{}) {}

// StdLogger prints on Printf and Warnf.
type StdLogger struct {
	*log.Logger
}

// Printf implements Logger interface.
func (s StdLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// Debugf implements Logger interface, but prints nothing.
func (StdLogger) Debugf(format string, v ...interface{}) {}

// Warnf implements Logger interface.
func (s StdLogger) Warnf(format string, v ...interface{}) {
	s.Logger.Printf("WARN "+format, v...)
}

// VerboseLogger prints on Printf, Debugf and Warnf.
type VerboseLogger struct {
	*log.Logger
}

// Printf implements Logger interface.
func (s VerboseLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// Debugf implements Logger interface.
func (s VerboseLogger) Debugf(format string, v ...interface{}) {
	s.Logger.Printf("DEBUG "+format, v...)
}

// Warnf implements Logger interface.
func (s VerboseLogger) Warnf(format string, v ...interface{}) {
	s.Logger.Printf("WARN "+format, v...)
}

// ZapLogger adapts a zap logger to Logger. Printf logs at info level.
type ZapLogger struct {
	*zap.SugaredLogger
}

// NewZapLogger gets a ZapLogger writing JSON to stderr. Debug messages are
// only written if verbose is set.
func NewZapLogger(verbose bool) (ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return ZapLogger{}, err
	}
	return ZapLogger{l.Sugar()}, nil
}

// Printf implements Logger interface.
func (z ZapLogger) Printf(format string, v ...interface{}) {
	z.SugaredLogger.Infof(format, v...)
}
