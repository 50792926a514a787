package http

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kalisio/k2/internal/adapters/valkey"
	"github.com/kalisio/k2/internal/core/ports"
	"github.com/kalisio/k2/internal/core/usecases"
)

// HealthCheck reports whether an optional backend is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Profiles *usecases.ProfileService
	Tiles    *usecases.TileService
	Jobs     ports.JobRunner // nil when Temporal is not configured
	NATS     *nats.Conn
	Cache    *valkey.Cache
	// Checks are extra readiness probes, keyed by name.
	Checks map[string]HealthCheck
	// ProfileTimeout bounds a synchronous profile request; 0 means 2 minutes.
	ProfileTimeout time.Duration
	// SpecPath locates the OpenAPI document served under /docs.
	SpecPath string
}
