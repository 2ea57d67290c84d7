package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// ZerologFactory routes pion's internal logging into zerolog.
type ZerologFactory struct {
	log zerolog.Logger
}

// NewZerologFactory scopes pion output under root at the given level.
// pion is chatty at debug, so callers usually pass warn.
func NewZerologFactory(root zerolog.Logger, level zerolog.Level) ZerologFactory {
	return ZerologFactory{log: root.Level(level).With().Str("module", "pion").Logger()}
}

func (f ZerologFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: f.log.With().Str("scope", scope).Logger()}
}

type pionLogger struct {
	log zerolog.Logger
}

func (p pionLogger) Trace(msg string)                  { p.log.Trace().Msg(msg) }
func (p pionLogger) Tracef(format string, args ...any) { p.log.Trace().Msgf(format, args...) }
func (p pionLogger) Debug(msg string)                  { p.log.Debug().Msg(msg) }
func (p pionLogger) Debugf(format string, args ...any) { p.log.Debug().Msgf(format, args...) }
func (p pionLogger) Info(msg string)                   { p.log.Info().Msg(msg) }
func (p pionLogger) Infof(format string, args ...any)  { p.log.Info().Msgf(format, args...) }
func (p pionLogger) Warn(msg string)                   { p.log.Warn().Msg(msg) }
func (p pionLogger) Warnf(format string, args ...any)  { p.log.Warn().Msgf(format, args...) }
func (p pionLogger) Error(msg string)                  { p.log.Error().Msg(msg) }
func (p pionLogger) Errorf(format string, args ...any) { p.log.Error().Msgf(format, args...) }
