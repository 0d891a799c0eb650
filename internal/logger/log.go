// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package logger provides a single logrus instance shared by the whole tool.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Log is the shared logger instance. It must be initialized with one of the
// Init functions before use.
var Log *logrus.Logger

const (
	LevelsFlag         = "log-level"
	LevelsHelp         = "Minimum log level to print to the console."
	LevelsPlaceholder  = "(warn)"
	FileFlag           = "log-file"
	FileFlagHelp       = "Full path to the file to write all logs to."
	ColorFlag          = "log-color"
	ColorFlagHelp      = "Sets the attribute of the colors used for logging."
	ColorsPlaceholder  = "(auto)"
	defaultStderrLevel = logrus.InfoLevel
	defaultFileLevel   = logrus.DebugLevel
)

const (
	colorAuto   = "auto"
	colorAlways = "always"
	colorNever  = "never"
)

// LogFlags groups the command line selectable logging options.
type LogFlags struct {
	LogColor *string
	LogFile  *string
	LogLevel *string
}

// writerHook directs log entries at or above a given level to one writer.
type writerHook struct {
	writer    io.Writer
	level     logrus.Level
	formatter logrus.Formatter
}

func (h *writerHook) Levels() []logrus.Level {
	return logrus.AllLevels[:h.level+1]
}

func (h *writerHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

type consoleFormatter struct {
	useColor bool
}

func (f *consoleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())

	if f.useColor {
		switch entry.Level {
		case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
			level = color.RedString(level)
		case logrus.WarnLevel:
			level = color.YellowString(level)
		case logrus.DebugLevel, logrus.TraceLevel:
			level = color.CyanString(level)
		}
	}

	message := fmt.Sprintf("%s [%s] %s\n", entry.Time.Format("2006-01-02T15:04:05Z07:00"), level, entry.Message)
	return []byte(message), nil
}

// Levels returns the list of selectable log levels.
func Levels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}

// Colors returns the list of selectable console color modes.
func Colors() []string {
	return []string{colorAuto, colorAlways, colorNever}
}

// InitStderrLog initializes the logger with default settings for tests and
// tools that do not parse log flags.
func InitStderrLog() {
	initLog(os.Stderr, defaultStderrLevel, colorAuto, "")
}

// Init initializes the logger from parsed log flags.
func Init(flags *LogFlags) error {
	level := defaultStderrLevel
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		parsedLevel, err := logrus.ParseLevel(*flags.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level (%s):\n%w", *flags.LogLevel, err)
		}
		level = parsedLevel
	}

	colorMode := colorAuto
	if flags.LogColor != nil && *flags.LogColor != "" {
		colorMode = *flags.LogColor
	}

	logFile := ""
	if flags.LogFile != nil {
		logFile = *flags.LogFile
	}

	initLog(os.Stderr, level, colorMode, logFile)
	return nil
}

// InitBestEffort initializes the logger from flags, falling back to the
// defaults if the flags are invalid.
func InitBestEffort(flags *LogFlags) {
	err := Init(flags)
	if err != nil {
		InitStderrLog()
		Log.Warnf("Failed to configure logger, using defaults: %s", err)
	}
}

// AddHook registers an additional hook, such as a MemoryLogHook in tests.
func AddHook(hook logrus.Hook) {
	Log.AddHook(hook)
}

func initLog(stderr io.Writer, stderrLevel logrus.Level, colorMode string, logFilePath string) {
	Log = logrus.New()

	// All output goes through hooks so each destination can filter on its
	// own level.
	Log.SetOutput(io.Discard)
	Log.SetLevel(logrus.TraceLevel)

	useColor := false
	switch colorMode {
	case colorAlways:
		useColor = true
	case colorNever:
		useColor = false
	default:
		useColor = !color.NoColor
	}

	Log.AddHook(&writerHook{
		writer:    stderr,
		level:     stderrLevel,
		formatter: &consoleFormatter{useColor: useColor},
	})

	if logFilePath != "" {
		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			Log.Warnf("Failed to open log file (%s): %s", logFilePath, err)
			return
		}

		Log.AddHook(&writerHook{
			writer:    logFile,
			level:     defaultFileLevel,
			formatter: &consoleFormatter{useColor: false},
		})
	}
}
