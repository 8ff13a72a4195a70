// Package logging builds the process logger. Every component logs through a
// *logrus.Entry carrying a "prefix" field naming it.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Config selects the level, console format and optional log files.
type Config struct {
	// Level is one of debug, info, warn, error, fatal or panic.
	Level string `mapstructure:"level"`

	// Format is "text" (prefixed, colored on a terminal) or "json".
	Format string `mapstructure:"format"`

	// Dir enables per-level log files in this directory.
	Dir string `mapstructure:"dir"`

	// Quiet discards console output. Files are still written.
	Quiet bool `mapstructure:"quiet"`
}

// ParseLevel maps a level name to a logrus level. Unknown names mean debug.
func ParseLevel(l string) logrus.Level {
	switch strings.ToLower(l) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}

// New builds a logger from config.
func New(config Config) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.Level = ParseLevel(config.Level)

	switch config.Format {
	case "", "text":
		logger.Formatter = &prefixed.TextFormatter{FullTimestamp: true}
	case "json":
		logger.Formatter = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	if config.Quiet {
		logger.Out = io.Discard
	} else {
		logger.Out = os.Stderr
	}

	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		pathMap := lfshook.PathMap{
			logrus.InfoLevel:  filepath.Join(config.Dir, "info.log"),
			logrus.WarnLevel:  filepath.Join(config.Dir, "info.log"),
			logrus.ErrorLevel: filepath.Join(config.Dir, "info.log"),
			logrus.DebugLevel: filepath.Join(config.Dir, "debug.log"),
		}
		logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.TextFormatter{}))
	}
	return logger, nil
}

// Component returns an entry prefixed with name.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("prefix", name)
}

// Discard returns an entry that drops everything.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	l.Level = logrus.PanicLevel
	return logrus.NewEntry(l)
}
