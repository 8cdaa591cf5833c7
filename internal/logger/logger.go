package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is our abstract logging interface.
type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(err error)
	WithFields(fields map[string]any) Logger
}

// LogrusLogger implements Logger using logrus.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates a JSON logrus logger writing to stdout and, when
// filepath is non-empty, appending to that file as well.
func NewLogrusLogger(filepath, level string) (Logger, error) {
	var out io.Writer = os.Stdout
	if filepath != "" {
		file, err := os.OpenFile(filepath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, file)
	}

	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		lvl = parsed
	}

	baseLogger := logrus.New()
	baseLogger.SetOutput(out)
	baseLogger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	baseLogger.SetLevel(lvl)

	return &LogrusLogger{
		entry: logrus.NewEntry(baseLogger),
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

func (l *LogrusLogger) Info(msg string) {
	l.entry.Info(msg)
}

func (l *LogrusLogger) Warn(msg string) {
	l.entry.Warn(msg)
}

func (l *LogrusLogger) Error(err error) {
	l.entry.Error(err)
}

func (l *LogrusLogger) WithFields(fields map[string]any) Logger {
	return &LogrusLogger{
		entry: l.entry.WithFields(logrus.Fields(fields)),
	}
}
