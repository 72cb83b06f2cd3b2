package log

import "github.com/robfig/cron/v3"

// cronLogger routes robfig/cron diagnostics through the package logger.
// Cron's own Info lines (schedule, wake, run) are noisy, so they go to debug.
type cronLogger struct{}

// CronLogger returns a cron.Logger backed by this package.
func CronLogger() cron.Logger {
	return cronLogger{}
}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	Error("cron: "+msg, err, keysAndValues...)
}
