package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Fields is an alias so callers don't need to import logrus.
type Fields = logrus.Fields

// Configure sets the JSON formatter and the level. An unknown level falls
// back to info.
func Configure(level string) {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	SetLevel(level)
}

// SetLevel changes the log level at runtime.
func SetLevel(level string) {
	if level == "" {
		log.SetLevel(logrus.InfoLevel)
		return
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Invalid log level '%s', defaulting to 'info'", level)
		return
	}
	log.SetLevel(lvl)
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Logger returns the underlying logrus logger. It satisfies asynq.Logger.
func Logger() *logrus.Logger {
	return log
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// WithJob returns an entry tagged with the job id.
func WithJob(jobID string) *logrus.Entry {
	return log.WithField("job_id", jobID)
}

func Debug(args ...interface{}) { log.Debug(args...) }

func Info(args ...interface{}) { log.Info(args...) }

func Warn(args ...interface{}) { log.Warn(args...) }

func Error(args ...interface{}) { log.Error(args...) }

func Fatal(args ...interface{}) { log.Fatal(args...) }

func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }

func Infof(format string, args ...interface{}) { log.Infof(format, args...) }

func Warnf(format string, args ...interface{}) { log.Warnf(format, args...) }

func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }

func Fatalf(format string, args ...interface{}) { log.Fatalf(format, args...) }
