package component

import (
	"log/slog"

	"github.com/c360/sftpstreams/metric"
	"github.com/c360/sftpstreams/natsclient"
)

// Dependencies carries shared infrastructure into component factories.
type Dependencies struct {
	NATSClient      *natsclient.Client      // binder connection, required
	MetricsRegistry *metric.MetricsRegistry // can be nil
	Logger          *slog.Logger            // can be nil, defaults to slog.Default()
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
