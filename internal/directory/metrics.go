package directory

import (
	"context"
	"time"

	"ssebot/internal/sse/metrics"
)

// MetricsDirectory wraps a Directory with metrics collection
type MetricsDirectory struct {
	directory Directory
	registry  *metrics.Registry
}

// NewMetricsDirectory creates a new instrumented directory
func NewMetricsDirectory(directory Directory, registry *metrics.Registry) Directory {
	return &MetricsDirectory{
		directory: directory,
		registry:  registry,
	}
}

// Lookup implements Directory.Lookup with metrics collection
func (d *MetricsDirectory) Lookup(ctx context.Context, userID uint64, preferLocal bool) (*User, error) {
	start := time.Now()

	u, err := d.directory.Lookup(ctx, userID, preferLocal)
	duration := time.Since(start)

	tier := "authoritative"
	if preferLocal {
		tier = "local"
	}

	status := "hit"
	switch {
	case err != nil:
		status = "error"
	case u == nil:
		status = "miss"
	}

	d.registry.RecordLookup(tier, status, duration)

	return u, err
}
