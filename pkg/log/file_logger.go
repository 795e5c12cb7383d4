package log

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
	"github.com/go-logr/logr"
	logLib "github.com/loft-sh/log"
	"github.com/loft-sh/log/survey"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var _ logLib.Logger = (*fileLogger)(nil)

type fileLogger struct {
	logger *logrus.Logger

	m     *sync.Mutex
	level logrus.Level
}

// NewFileLogger returns a json logger that writes into a rotated log file
func NewFileLogger(logFile string, level logrus.Level) logLib.Logger {
	return newLogger(&lumberjack.Logger{
		Filename:   logFile,
		MaxAge:     12,
		MaxBackups: 4,
		MaxSize:    10,
	}, level)
}

func newLogger(out io.Writer, level logrus.Level) *fileLogger {
	newLogger := &fileLogger{
		logger: logrus.New(),
		m:      &sync.Mutex{},
	}
	newLogger.logger.Formatter = &logrus.JSONFormatter{}
	newLogger.logger.SetOutput(out)
	newLogger.logger.SetLevel(logrus.TraceLevel)
	newLogger.level = level
	return newLogger
}

func (f *fileLogger) logf(level logrus.Level, message string) {
	f.m.Lock()
	defer f.m.Unlock()

	if f.level < level {
		return
	}

	message = stripEscapeSequences(message)
	if level == logrus.FatalLevel || level == logrus.PanicLevel {
		f.logger.Fatal(message)
		return
	}
	f.logger.Log(level, message)
}

func (f *fileLogger) Debug(args ...interface{}) { f.logf(logrus.DebugLevel, fmt.Sprint(args...)) }

func (f *fileLogger) Debugf(format string, args ...interface{}) {
	f.logf(logrus.DebugLevel, fmt.Sprintf(format, args...))
}

func (f *fileLogger) Info(args ...interface{}) { f.logf(logrus.InfoLevel, fmt.Sprint(args...)) }

func (f *fileLogger) Infof(format string, args ...interface{}) {
	f.logf(logrus.InfoLevel, fmt.Sprintf(format, args...))
}

func (f *fileLogger) Warn(args ...interface{}) { f.logf(logrus.WarnLevel, fmt.Sprint(args...)) }

func (f *fileLogger) Warnf(format string, args ...interface{}) {
	f.logf(logrus.WarnLevel, fmt.Sprintf(format, args...))
}

func (f *fileLogger) Error(args ...interface{}) { f.logf(logrus.ErrorLevel, fmt.Sprint(args...)) }

func (f *fileLogger) Errorf(format string, args ...interface{}) {
	f.logf(logrus.ErrorLevel, fmt.Sprintf(format, args...))
}

func (f *fileLogger) Fatal(args ...interface{}) { f.logf(logrus.FatalLevel, fmt.Sprint(args...)) }

func (f *fileLogger) Fatalf(format string, args ...interface{}) {
	f.logf(logrus.FatalLevel, fmt.Sprintf(format, args...))
}

func (f *fileLogger) Done(args ...interface{}) { f.logf(logrus.InfoLevel, fmt.Sprint(args...)) }

func (f *fileLogger) Donef(format string, args ...interface{}) {
	f.logf(logrus.InfoLevel, fmt.Sprintf(format, args...))
}

func (f *fileLogger) Print(level logrus.Level, args ...interface{}) {
	f.logf(printLevel(level), fmt.Sprint(args...))
}

func (f *fileLogger) Printf(level logrus.Level, format string, args ...interface{}) {
	f.logf(printLevel(level), fmt.Sprintf(format, args...))
}

// printLevel maps trace to debug and panic to fatal
func printLevel(level logrus.Level) logrus.Level {
	switch level {
	case logrus.TraceLevel:
		return logrus.DebugLevel
	case logrus.PanicLevel:
		return logrus.FatalLevel
	}
	return level
}

func (f *fileLogger) SetLevel(level logrus.Level) {
	f.m.Lock()
	defer f.m.Unlock()

	f.level = level
}

func (f *fileLogger) GetLevel() logrus.Level {
	f.m.Lock()
	defer f.m.Unlock()

	return f.level
}

func (f *fileLogger) Writer(level logrus.Level, raw bool) io.WriteCloser {
	f.m.Lock()
	defer f.m.Unlock()

	if f.level < level {
		return &nopCloser{io.Discard}
	}

	return &nopCloser{f.logger.Out}
}

func (f *fileLogger) WriteString(level logrus.Level, message string) {
	f.m.Lock()
	defer f.m.Unlock()

	if f.level < level {
		return
	}

	_, _ = f.logger.Out.Write([]byte(stripEscapeSequences(message) + "\n"))
}

func (f *fileLogger) Question(params *survey.QuestionOptions) (string, error) {
	return "", errors.New("questions in file logger not supported")
}

func (f *fileLogger) ErrorStreamOnly() logLib.Logger {
	return f
}

func (f *fileLogger) LogrLogSink() logr.LogSink {
	return &fileLogSink{logger: f}
}

func stripEscapeSequences(str string) string {
	return stripansi.Strip(strings.TrimSpace(str))
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// fileLogSink adapts the file logger to logr, logr verbosity 0 is info
type fileLogSink struct {
	logger *fileLogger
	name   string
	values []interface{}
}

func (s *fileLogSink) Init(info logr.RuntimeInfo) {}

func (s *fileLogSink) Enabled(level int) bool {
	if level > 0 {
		return s.logger.GetLevel() >= logrus.DebugLevel
	}
	return s.logger.GetLevel() >= logrus.InfoLevel
}

func (s *fileLogSink) Info(level int, msg string, keysAndValues ...interface{}) {
	logLevel := logrus.InfoLevel
	if level > 0 {
		logLevel = logrus.DebugLevel
	}
	s.logger.logf(logLevel, s.format(msg, keysAndValues))
}

func (s *fileLogSink) Error(err error, msg string, keysAndValues ...interface{}) {
	s.logger.logf(logrus.ErrorLevel, s.format(fmt.Sprintf("%s: %v", msg, err), keysAndValues))
}

func (s *fileLogSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	values := append(append([]interface{}{}, s.values...), keysAndValues...)
	return &fileLogSink{logger: s.logger, name: s.name, values: values}
}

func (s *fileLogSink) WithName(name string) logr.LogSink {
	if s.name != "" {
		name = s.name + "." + name
	}
	return &fileLogSink{logger: s.logger, name: name, values: s.values}
}

func (s *fileLogSink) format(msg string, keysAndValues []interface{}) string {
	if s.name != "" {
		msg = s.name + ": " + msg
	}
	all := append(append([]interface{}{}, s.values...), keysAndValues...)
	for i := 0; i+1 < len(all); i += 2 {
		msg += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	return msg
}
