package logger

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ManuelReschke/FanPass/internal/pkg/env"
)

// Log is the process-wide structured logger.
var Log = logrus.New()

func init() {
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	Log.SetLevel(logrus.InfoLevel)
	Log.SetOutput(os.Stdout)
}

// Setup applies LOG_LEVEL and LOG_FILE once the env file has been loaded and
// sends fiber's own log through the same sink.
func Setup() {
	if lvl, err := logrus.ParseLevel(env.GetEnv("LOG_LEVEL", "info")); err == nil {
		Log.SetLevel(lvl)
	}
	BridgeFiber()

	path := strings.TrimSpace(env.GetEnv("LOG_FILE", ""))
	if path == "" {
		return
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		Log.WithError(err).Warn("could not open log file, logging to stdout only")
		return
	}
	Log.SetOutput(io.MultiWriter(os.Stdout, file))
}

// Component returns an entry tagged with the emitting component.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// Writer adapts the logger to io.Writer. Each written line becomes one entry
// of the component at the given level.
func Writer(component string, level logrus.Level) io.Writer {
	return lineWriter{entry: Component(component), level: level}
}

type lineWriter struct {
	entry *logrus.Entry
	level logrus.Level
}

func (w lineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.entry.Log(w.level, line)
		}
	}
	return len(p), nil
}

// BridgeFiber points github.com/gofiber/fiber/v2/log at this logger.
func BridgeFiber() {
	fiberlog.SetOutput(fiberWriter{entry: Component("fiber")})
	fiberlog.SetLevel(fiberLevel(Log.GetLevel()))
}

// fiber prefixes each line with its level tag. Fatal and panic are logged as
// errors; fiber exits or panics on its own.
var fiberTags = []struct {
	tag   string
	level logrus.Level
}{
	{"[Trace] ", logrus.TraceLevel},
	{"[Debug] ", logrus.DebugLevel},
	{"[Info] ", logrus.InfoLevel},
	{"[Warn] ", logrus.WarnLevel},
	{"[Error] ", logrus.ErrorLevel},
	{"[Fatal] ", logrus.ErrorLevel},
	{"[Panic] ", logrus.ErrorLevel},
}

type fiberWriter struct {
	entry *logrus.Entry
}

func (w fiberWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		level, msg := logrus.InfoLevel, line
		for _, t := range fiberTags {
			if i := strings.Index(line, t.tag); i >= 0 {
				level, msg = t.level, line[i+len(t.tag):]
				break
			}
		}
		if msg = strings.TrimSpace(msg); msg != "" {
			w.entry.Log(level, msg)
		}
	}
	return len(p), nil
}

func fiberLevel(l logrus.Level) fiberlog.Level {
	switch l {
	case logrus.TraceLevel:
		return fiberlog.LevelTrace
	case logrus.DebugLevel:
		return fiberlog.LevelDebug
	case logrus.InfoLevel:
		return fiberlog.LevelInfo
	case logrus.WarnLevel:
		return fiberlog.LevelWarn
	case logrus.ErrorLevel:
		return fiberlog.LevelError
	case logrus.FatalLevel:
		return fiberlog.LevelFatal
	default:
		return fiberlog.LevelPanic
	}
}

// Discard silences the logger, used by tests that exercise noisy paths.
func Discard() {
	Log.SetOutput(io.Discard)
}

// Gorm returns a GORM logger that writes through logrus.
func Gorm() gormlogger.Interface {
	level := gormlogger.Warn
	if env.IsDev() {
		level = gormlogger.Info
	}
	return &gormLogger{level: level, slow: 200 * time.Millisecond}
}

type gormLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		Log.WithFields(logrus.Fields{"source": "gorm", "data": data}).Info(msg)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		Log.WithFields(logrus.Fields{"source": "gorm", "data": data}).Warn(msg)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		Log.WithFields(logrus.Fields{"source": "gorm", "data": data}).Error(msg)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := logrus.Fields{
		"source":  "gorm",
		"elapsed": elapsed.String(),
		"sql":     sql,
		"rows":    rows,
	}

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		fields["error"] = err.Error()
		Log.WithFields(fields).Error("SQL query error")
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		Log.WithFields(fields).Warn("slow SQL query")
	case l.level >= gormlogger.Info:
		Log.WithFields(fields).Debug("SQL query executed")
	}
}
