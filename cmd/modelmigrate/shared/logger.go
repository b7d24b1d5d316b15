package shared

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/peterldowns/modelmigrate"
)

type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// LogAdapter lets the library log through the CLI's logger.
type LogAdapter struct {
	*log.Logger
}

func (l LogAdapter) Log(_ context.Context, level modelmigrate.LogLevel, msg string, fields ...modelmigrate.LogField) {
	args := make([]any, 0, 2*len(fields))
	for _, field := range fields {
		args = append(args, field.Key, field.Value)
	}
	switch level {
	case modelmigrate.LogLevelDebug:
		l.Logger.Debug(msg, args...)
	case modelmigrate.LogLevelInfo:
		l.Logger.Info(msg, args...)
	case modelmigrate.LogLevelWarning:
		l.Logger.Warn(msg, args...)
	case modelmigrate.LogLevelError:
		l.Logger.Error(msg, args...)
	}
}
