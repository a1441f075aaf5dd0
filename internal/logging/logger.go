package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	*logrus.Logger
}

func NewLogger(level, format string) *Logger {
	logger := logrus.New()

	// Set log level
	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	// Set formatter
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return &Logger{Logger: logger}
}

// WithDeployment returns an entry scoped to a single deployment.
func (l *Logger) WithDeployment(deploymentID string) *logrus.Entry {
	return l.WithField("deployment_id", deploymentID)
}

// LogStep logs the outcome of a pipeline step with its duration.
func (l *Logger) LogStep(deploymentID, step string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"deployment_id": deploymentID,
		"step":          step,
		"duration":      duration.Milliseconds(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.WithFields(fields).Error("Deployment step failed")
	} else {
		l.WithFields(fields).Info("Deployment step completed")
	}
}

// LogCommand logs an external command invocation.
func (l *Logger) LogCommand(name string, args []string, dir string) {
	l.WithFields(logrus.Fields{
		"command": name,
		"args":    args,
		"dir":     dir,
	}).Debug("Running external command")
}
