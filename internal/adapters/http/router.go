package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/kalisio/k2/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	profileTimeout := deps.ProfileTimeout
	if profileTimeout <= 0 {
		profileTimeout = 2 * time.Minute
	}

	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip). Terrain tiles are stored gzipped already.
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return isTerrainPath(c.Path())
		},
		Level: compress.LevelBestSpeed,
	}))

	// Request ID (honors an incoming X-Request-ID)
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: profiles are expensive, tiles are not.
	app.Use(limiter.New(limiter.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodGet
		},
		Max:        60,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, 429, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness
	app.Get("/healthcheck", LegacyHealthcheckHandler())
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// Elevation profiles
	elevation := timeout.NewWithContext(ElevationHandler(deps), profileTimeout)
	app.Post("/elevation", elevation)

	v1 := app.Group("/v1")
	v1.Post("/elevation", elevation)
	v1.Post("/elevation/jobs", timeout.NewWithContext(StartJobHandler(deps), 15*time.Second))
	v1.Get("/elevation/jobs/:id", timeout.NewWithContext(JobStatusHandler(deps), 15*time.Second))

	// GraphQL
	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), profileTimeout))

	// API documentation (Swagger UI)
	SetupDocs(app, deps.SpecPath)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))

	// Terrain tiles, registered last: the pattern matches any three segments.
	app.Get("/layer.json", LayerJSONHandler(deps))
	app.Get("/:z/:x/:tile", TerrainTileHandler(deps))
}
