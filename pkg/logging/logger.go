// Package logging provides the structured logger used by every Nexus
// component. Components take a Logger at construction time; there is no
// package-global instance.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/nexus-main/nexus-sub002/pkg/config"
)

// Logger represents a logger instance.
type Logger = *logrus.Logger

// Fields represents structured logging fields.
type Fields = logrus.Fields

// Level represents a log level.
type Level = logrus.Level

// Log levels.
const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// New creates a new configured logger instance.
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.LogLevel())
	return logger
}

// NewWithComponent creates a logger with a component field set, the way the
// engine tags every subsystem's log lines (catalog, scheduler, cache, ...).
func NewWithComponent(component string) *logrus.Logger {
	logger := New()
	return logger.WithField("component", component).Logger
}
