// Package fs provides the shared core for ftpmount: the logging
// facade and the error sentinels and classification used across the
// virtual filesystem, the wire client and the pools.
package fs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogLevel describes a log verbosity
type LogLevel byte

// Log levels.  These are the syslog levels of which we only use a
// subset.
const (
	LogLevelError LogLevel = iota
	LogLevelNotice
	LogLevelInfo
	LogLevelDebug
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006/01/02 15:04:05",
		FullTimestamp:   true,
	})
	// logrus has no notice level so LogLevelNotice maps onto warn
	logger.SetLevel(logrus.WarnLevel)
}

// SetLogLevel sets the minimum level which will be output
func SetLogLevel(level LogLevel) {
	switch level {
	case LogLevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LogLevelNotice:
		logger.SetLevel(logrus.WarnLevel)
	case LogLevelInfo:
		logger.SetLevel(logrus.InfoLevel)
	case LogLevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	}
}

// objectString turns the object being logged about into a prefix
// string.  Anything with a String method is used directly, a plain
// string is used as is and nil means no prefix.
func objectString(o interface{}) string {
	switch x := o.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", o)
}

func logf(level logrus.Level, o interface{}, text string, args ...interface{}) {
	entry := logrus.NewEntry(logger)
	if prefix := objectString(o); prefix != "" {
		entry = entry.WithField("object", prefix)
	}
	entry.Log(level, fmt.Sprintf(text, args...))
}

// Errorf writes error log output for this Object or Fs.  It
// should always be seen by the user.
func Errorf(o interface{}, text string, args ...interface{}) {
	logf(logrus.ErrorLevel, o, text, args...)
}

// Logf writes log output for this Object or Fs.  This should be
// seen by the user with the default log levels.
func Logf(o interface{}, text string, args ...interface{}) {
	logf(logrus.WarnLevel, o, text, args...)
}

// Infof writes info on transfers and operations for this Object or
// Fs.  Shown with -v.
func Infof(o interface{}, text string, args ...interface{}) {
	logf(logrus.InfoLevel, o, text, args...)
}

// Debugf writes debugging output for this Object or Fs.  Shown with
// -vv.
func Debugf(o interface{}, text string, args ...interface{}) {
	logf(logrus.DebugLevel, o, text, args...)
}
