package pion

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ logging.LoggerFactory = loggerFactory{}

// loggerFactory routes pion's internal logs into zerolog, one sub-logger per
// pion scope (ice, dtls, sctp...).
type loggerFactory struct {
	base zerolog.Logger
}

func newLoggerFactory() logging.LoggerFactory {
	return loggerFactory{base: log.With().Str("component", "pion").Logger()}
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return scopedLogger{l: f.base.With().Str("scope", scope).Logger()}
}

// pion is chatty at info, so its info lines are logged at debug.
type scopedLogger struct {
	l zerolog.Logger
}

func (s scopedLogger) Trace(msg string)                  { s.l.Trace().Msg(msg) }
func (s scopedLogger) Tracef(format string, args ...any) { s.l.Trace().Msgf(format, args...) }
func (s scopedLogger) Debug(msg string)                  { s.l.Trace().Msg(msg) }
func (s scopedLogger) Debugf(format string, args ...any) { s.l.Trace().Msgf(format, args...) }
func (s scopedLogger) Info(msg string)                   { s.l.Debug().Msg(msg) }
func (s scopedLogger) Infof(format string, args ...any)  { s.l.Debug().Msgf(format, args...) }
func (s scopedLogger) Warn(msg string)                   { s.l.Warn().Msg(msg) }
func (s scopedLogger) Warnf(format string, args ...any)  { s.l.Warn().Msgf(format, args...) }
func (s scopedLogger) Error(msg string)                  { s.l.Error().Msg(msg) }
func (s scopedLogger) Errorf(format string, args ...any) { s.l.Error().Msgf(format, args...) }
