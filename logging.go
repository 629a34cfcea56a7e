package main

import (
	"io"
	"os"
	"strings"

	"aricall/ari"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	coreLog   *logrus.Entry
	ariLog    *logrus.Entry
	eventsLog *logrus.Entry
	logFile   *lumberjack.Logger
)

// initLogging configures per-component loggers writing to the console and a
// rotating log file.
func initLogging(cfg *ini.File) error {
	sec := cfg.Section("logging")

	consoleMin := toLogrusLevel(sec.Key("console_min_level").MustInt(0))
	fileMin := toLogrusLevel(sec.Key("file_min_level").MustInt(0))

	logFile = &lumberjack.Logger{
		Filename:   sec.Key("file").MustString("aricall.log"),
		MaxSize:    100, // megabytes
		MaxBackups: sec.Key("max_backups").MustInt(1),
	}

	coreLog = newLogger("core", toLogrusLevel(sec.Key("core").MustInt(2)), consoleMin, fileMin, os.Stdout, logFile, nil)
	ariLog = newLogger("ari", toLogrusLevel(sec.Key("ari").MustInt(2)), consoleMin, fileMin, os.Stdout, logFile, nil)

	var skip func(*logrus.Entry) bool
	if !sec.Key("event_frames").MustBool(true) {
		skip = isEventFrame
	}
	eventsLog = newLogger("events", toLogrusLevel(sec.Key("events").MustInt(1)), consoleMin, fileMin, os.Stdout, logFile, skip)
	return nil
}

// closeLogging flushes and closes log files.
func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
	}
}

// writerHook writes logs to the specified writer for provided levels.
// Entries matching Skip are not written.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	Skip      func(*logrus.Entry) bool
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	if h.Skip != nil && h.Skip(e) {
		return nil
	}
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func newLogger(name string, level, consoleMin, fileMin logrus.Level, console, file io.Writer, skip func(*logrus.Entry) bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.AddHook(&writerHook{Writer: console, LogLevels: availableLevels(consoleMin), Skip: skip})
	logger.AddHook(&writerHook{Writer: file, LogLevels: availableLevels(fileMin), Skip: skip})
	return logger.WithField("name", name)
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}

func toLogrusLevel(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.TraceLevel
	case v == 1:
		return logrus.DebugLevel
	case v == 2:
		return logrus.InfoLevel
	case v == 3:
		return logrus.WarnLevel
	case v == 4:
		return logrus.ErrorLevel
	case v == 5:
		return logrus.FatalLevel
	default:
		return logrus.PanicLevel // off
	}
}

// isEventFrame matches raw ARI event frame dumps.
func isEventFrame(e *logrus.Entry) bool {
	return strings.HasPrefix(e.Message, ari.FramePrefix)
}
