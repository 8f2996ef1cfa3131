package engine

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// newLoggerFactory bridges pion's logging onto the process slog logger, one
// child logger per pion scope.
func newLoggerFactory(log *slog.Logger) logging.LoggerFactory {
	return loggerFactory{log: log}
}

type loggerFactory struct {
	log *slog.Logger
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return leveledLogger{log: f.log.With("scope", scope)}
}

// leveledLogger maps pion's trace level onto debug; slog has no finer level.
type leveledLogger struct {
	log *slog.Logger
}

func (l leveledLogger) Trace(msg string)                  { l.log.Debug(msg) }
func (l leveledLogger) Tracef(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l leveledLogger) Debug(msg string)                  { l.log.Debug(msg) }
func (l leveledLogger) Debugf(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l leveledLogger) Info(msg string)                   { l.log.Info(msg) }
func (l leveledLogger) Infof(format string, args ...any)  { l.log.Info(fmt.Sprintf(format, args...)) }
func (l leveledLogger) Warn(msg string)                   { l.log.Warn(msg) }
func (l leveledLogger) Warnf(format string, args ...any)  { l.log.Warn(fmt.Sprintf(format, args...)) }
func (l leveledLogger) Error(msg string)                  { l.log.Error(msg) }
func (l leveledLogger) Errorf(format string, args ...any) { l.log.Error(fmt.Sprintf(format, args...)) }
