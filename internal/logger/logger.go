package logger

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FilePrefix names the daily log files: init-2006-01-02.log.
const FilePrefix = "init-"

var (
	std = newStd()

	consoleMu  sync.Mutex
	consoleOut io.Writer = os.Stdout
	consoleErr io.Writer = os.Stderr

	logFile     *os.File
	logDir      string
	currentDay  string
	logMu       sync.Mutex
	fileLogging bool
)

// newStd returns the logger behind the package functions. Console output
// goes through consoleHook so warnings and errors reach stderr.
func newStd() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	l.AddHook(consoleHook{})
	l.AddHook(fileHook{})
	return l
}

// Configure sets the level (debug, info, warn, error) and format (text, json).
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	std.SetLevel(lvl)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		std.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006/01/02 15:04:05",
		})
	case "json":
		std.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// SetOutput sends all console output to w.
func SetOutput(w io.Writer) {
	SetOutputs(w, w)
}

// SetOutputs sets the console writers for info and debug entries (out) and
// for warnings and errors (errOut).
func SetOutputs(out, errOut io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	consoleOut, consoleErr = out, errOut
}

// Init enables daily log files in logDir. An empty dir keeps stdout only.
func Init(dir string) error {
	if dir == "" {
		return nil
	}
	// Accept both /app/data and /app/data/logs.
	resolved := dir
	if path.Base(filepath.ToSlash(dir)) != "logs" {
		resolved = filepath.Join(dir, "logs")
	}
	if err := os.MkdirAll(resolved, 0755); err != nil {
		return err
	}

	logMu.Lock()
	defer logMu.Unlock()
	logDir = resolved
	fileLogging = true
	if err := rotateLocked(time.Now()); err != nil {
		fileLogging = false
		return err
	}
	return nil
}

// Dir returns the active log directory, or "" when file logging is off.
func Dir() string {
	logMu.Lock()
	defer logMu.Unlock()
	if !fileLogging {
		return ""
	}
	return logDir
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	fileLogging = false
	currentDay = ""
}

func Debug(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	std.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

// With returns an entry carrying a field, e.g. the child process name.
func With(key string, value interface{}) *logrus.Entry {
	return std.WithField(key, value)
}

// consoleHook writes formatted entries to stdout, or to stderr from Warn up.
type consoleHook struct{}

func (consoleHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (consoleHook) Fire(e *logrus.Entry) error {
	b, err := e.Logger.Formatter.Format(e)
	if err != nil {
		return err
	}
	consoleMu.Lock()
	defer consoleMu.Unlock()
	w := consoleOut
	if e.Level <= logrus.WarnLevel {
		w = consoleErr
	}
	_, err = w.Write(b)
	return err
}

// fileHook mirrors every entry into the current daily file, without color.
type fileHook struct{}

func (fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (fileHook) Fire(e *logrus.Entry) error {
	logMu.Lock()
	defer logMu.Unlock()
	if !fileLogging {
		return nil
	}
	if err := rotateLocked(e.Time); err != nil || logFile == nil {
		return nil
	}
	label := strings.ToUpper(e.Level.String())
	if len(label) > 4 {
		label = label[:4]
	}
	line := fmt.Sprintf("%s [%s] %s", e.Time.Format("2006/01/02 15:04:05"), label, e.Message)
	for k, v := range e.Data {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	_, _ = logFile.WriteString(line + "\n")
	return nil
}

func rotateLocked(t time.Time) error {
	if logDir == "" {
		return nil
	}
	day := t.Format("2006-01-02")
	if logFile != nil && currentDay == day {
		return nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	filePath := filepath.Join(logDir, FilePrefix+day+".log")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	logFile = f
	currentDay = day
	return nil
}
