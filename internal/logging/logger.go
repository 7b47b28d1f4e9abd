package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows all debug information
	LogLevelDebug LogLevel = "debug"
)

// Logger provides structured logging for backup, restore, and verification
// operations. Failures are always written to the durable log file (when
// configured) so an unattended run is diagnosable after the fact.
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level   LogLevel
	Output  io.Writer
	Format  string // "text" or "json"
	LogFile string // append-only; combined with Output via MultiWriter
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch config.Level {
	case LogLevelQuiet:
		logger.SetLevel(logrus.ErrorLevel)
	case LogLevelVerbose:
		logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		logger.SetLevel(logrus.TraceLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		logger.SetOutput(io.MultiWriter(out, file))
	} else {
		logger.SetOutput(out)
	}

	return &Logger{
		logger: logger,
		level:  config.Level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stdout,
		Format: "text",
	})
	return logger
}

// WithFields returns a logger entry with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger entry with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// Operation logging methods

// LogBackup logs the outcome of one backup invocation.
func (l *Logger) LogBackup(scope, target, path string, sizeBytes int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "backup",
		"scope":     scope,
		"duration":  duration.String(),
	}
	if target != "" {
		fields["database"] = target
	}
	if path != "" {
		fields["artifact"] = path
		fields["size_bytes"] = sizeBytes
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Backup failed")
	} else {
		l.logger.WithFields(fields).Info("Backup completed")
	}
}

// LogRestorePhase logs one restore session state transition.
func (l *Logger) LogRestorePhase(sessionID, scope, target, phase string) {
	fields := logrus.Fields{
		"operation": "restore",
		"session":   sessionID,
		"scope":     scope,
		"phase":     phase,
	}
	if target != "" {
		fields["database"] = target
	}
	l.logger.WithFields(fields).Info("Restore phase reached")
}

// LogProbeAttempt logs one connection strategy attempt.
func (l *Logger) LogProbeAttempt(endpoint, method string, success bool, err error) {
	fields := logrus.Fields{
		"operation": "probe",
		"endpoint":  endpoint,
		"method":    method,
		"success":   success,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if success {
		l.logger.WithFields(fields).Info("Connection strategy succeeded")
	} else {
		l.logger.WithFields(fields).Debug("Connection strategy failed")
	}
}

// LogRemediation logs one remediation cycle of the service health verifier.
// Every cycle is recorded so failure diagnosis does not require re-running
// the loop.
func (l *Logger) LogRemediation(service string, cycle int, action string, err error) {
	fields := logrus.Fields{
		"operation": "remediation",
		"service":   service,
		"cycle":     cycle,
		"action":    action,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Warn("Remediation action failed")
	} else {
		l.logger.WithFields(fields).Info("Remediation action applied")
	}
}

// LogPrune logs the outcome of a retention pruning pass.
func (l *Logger) LogPrune(scope string, maxAgeDays int, deleted int, err error) {
	fields := logrus.Fields{
		"operation":    "prune",
		"scope":        scope,
		"max_age_days": maxAgeDays,
		"deleted":      deleted,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Warn("Retention pruning failed")
	} else {
		l.logger.WithFields(fields).Info("Retention pruning completed")
	}
}

// Standard logging methods

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	switch level {
	case LogLevelQuiet:
		l.logger.SetLevel(logrus.ErrorLevel)
	case LogLevelNormal:
		l.logger.SetLevel(logrus.InfoLevel)
	case LogLevelVerbose:
		l.logger.SetLevel(logrus.DebugLevel)
	case LogLevelDebug:
		l.logger.SetLevel(logrus.TraceLevel)
	}
}
