package pionengine

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// loggerFactory adapts slog to pion's logging factory so the in-process
// engine logs through the same handler as the rest of the service.
type loggerFactory struct {
	log *slog.Logger
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return leveledLogger{log: f.log.With("scope", scope)}
}

type leveledLogger struct {
	log *slog.Logger
}

func (l leveledLogger) Trace(msg string) { l.log.Debug(msg) }
func (l leveledLogger) Tracef(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
func (l leveledLogger) Debug(msg string) { l.log.Debug(msg) }
func (l leveledLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
func (l leveledLogger) Info(msg string) { l.log.Info(msg) }
func (l leveledLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}
func (l leveledLogger) Warn(msg string) { l.log.Warn(msg) }
func (l leveledLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
func (l leveledLogger) Error(msg string) { l.log.Error(msg) }
func (l leveledLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}
