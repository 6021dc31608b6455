// Package logging provides the structured logger shared by every component.
package logging

import (
	"go.uber.org/zap"
)

// Logger is a thin wrapper so call sites depend on this package, not zap
// directly, keeping the encoder choice centralized.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a Logger. debug selects the development (console, caller-heavy)
// encoder; otherwise the production JSON encoder is used.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		// Config-time logger failure is a boot-time configuration error.
		panic("logging: failed to build logger: " + err.Error())
	}
	return &Logger{logger.Sugar()}
}

// With returns a child logger carrying the given structured fields.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{l.SugaredLogger.With(args...)}
}
