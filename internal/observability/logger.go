package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes one structured line per event. Callers pass an event name
// plus a flat field map, the same shape every package in the gateway uses.
type Logger struct {
	base zerolog.Logger
}

type LoggerOptions struct {
	Level  string
	Format string
	Output io.Writer
}

func NewLogger(options LoggerOptions) *Logger {
	output := options.Output
	if output == nil {
		output = os.Stdout
	}
	if strings.EqualFold(options.Format, "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.MessageFieldName = "message"

	base := zerolog.New(output).Level(parseLevel(options.Level)).With().Timestamp().Logger()
	return &Logger{base: base}
}

func NewNopLogger() *Logger {
	return &Logger{base: zerolog.Nop()}
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.write(zerolog.DebugLevel, message, fields)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.write(zerolog.InfoLevel, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.write(zerolog.WarnLevel, message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.write(zerolog.ErrorLevel, message, fields)
}

func (l *Logger) write(level zerolog.Level, message string, fields map[string]any) {
	if l == nil {
		return
	}

	event := l.base.WithLevel(level)
	if event == nil {
		return
	}
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(message)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
