// Package router provides HTTP routing, middleware configuration, and server setup for the dispatch API
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/amirphl/astro-dispatch/app/dto"
	"github.com/amirphl/astro-dispatch/app/handlers"
	"github.com/amirphl/astro-dispatch/app/middleware"
	"github.com/amirphl/astro-dispatch/config"
	"github.com/amirphl/astro-dispatch/docs"
	"github.com/amirphl/astro-dispatch/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// Handlers groups the HTTP handlers mounted by the router
type Handlers struct {
	Admin    handlers.BroadcastAdminHandlerInterface
	Stream   handlers.BroadcastStreamHandlerInterface
	Dispatch handlers.DispatchHandlerInterface
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	cfg      *config.ProductionConfig
	handlers Handlers
	auth     *middleware.AuthMiddleware
	logger   zerolog.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(cfg *config.ProductionConfig, h Handlers, auth *middleware.AuthMiddleware, logger zerolog.Logger) *FiberRouter {
	logger = logger.With().Str("component", "router").Logger()
	r := &FiberRouter{
		cfg:      cfg,
		handlers: h,
		auth:     auth,
		logger:   logger,
	}

	bodyLimit := cfg.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 4 * 1024 * 1024
	}
	r.app = fiber.New(fiber.Config{
		AppName:      "Astro Dispatch API",
		ServerHeader: "Astro-Dispatch",
		ErrorHandler: r.errorHandler,
		BodyLimit:    bodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		// event streams outlive any write deadline
		WriteTimeout: 0,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.cfg.Metrics.Enabled {
		path := r.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.app.Get(path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")
	api.Get("/health", r.healthCheck)
	api.Get("/swagger.json", r.serveSwaggerJSON)

	if r.cfg.Security.GlobalRateLimit > 0 {
		window := r.cfg.Security.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		api.Use(limiter.New(limiter.Config{
			Max:        r.cfg.Security.GlobalRateLimit,
			Expiration: window,
			KeyGenerator: func(c fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
					Success: false,
					Message: "Too many requests. Please try again later.",
					Error:   dto.ErrorDetail{Code: "RATE_LIMIT_EXCEEDED"},
				})
			},
			Next: func(c fiber.Ctx) bool {
				// progress streams reconnect often and the scheduler is trusted
				return strings.HasSuffix(c.Path(), "/progress") || strings.HasPrefix(c.Path(), "/api/v1/dispatch")
			},
		}))
	}

	admin := api.Group("/admin/broadcasts", r.auth.AdminAuthenticate())
	admin.Post("/", r.handlers.Admin.CreateBroadcast)
	admin.Get("/", r.handlers.Admin.ListBroadcasts)
	admin.Post("/audience/preview", r.handlers.Admin.PreviewAudience)
	admin.Post("/maintenance", r.handlers.Admin.RunMaintenance)
	admin.Post("/dispatch", r.handlers.Dispatch.Trigger)
	admin.Post("/dispatch/kick", r.handlers.Dispatch.Kick)
	admin.Get("/:id", r.handlers.Admin.GetBroadcast)
	admin.Post("/:id/actions", r.handlers.Admin.ManageBroadcast)
	admin.Get("/:id/progress", r.handlers.Stream.StreamProgress)
	admin.Get("/:id/errors", r.handlers.Admin.ListErrors)
	admin.Get("/:id/errors/export", r.handlers.Admin.ExportErrors)

	dispatch := api.Group("/dispatch", r.auth.SchedulerOrAdmin())
	dispatch.Post("/trigger", r.handlers.Dispatch.Trigger)
	dispatch.Post("/kick", r.handlers.Dispatch.Kick)

	r.app.Use(r.notFoundHandler)

	r.logger.Info().Msg("routes configured")
}

func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: generateRequestID,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error().
				Str("request_id", requestid.FromContext(c)).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Interface("panic", e).
				Msg("panic recovered")
		},
	}))

	r.app.Use(middleware.Metrics())

	xFrame := r.cfg.Security.XFrameOptions
	if xFrame == "" {
		xFrame = "DENY"
	}
	referrer := r.cfg.Security.ReferrerPolicy
	if referrer == "" {
		referrer = "strict-origin-when-cross-origin"
	}
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         xFrame,
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none';",
		ReferrerPolicy:        referrer,
		XDNSPrefetchControl:   "off",
		XDownloadOptions:      "noopen",
		XPermittedCrossDomain: "none",
	}))

	maxAge := r.cfg.Security.CORSMaxAge
	if maxAge <= 0 {
		maxAge = utils.CORSMaxAge
	}
	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.Security.AllowedOrigins,
		AllowMethods:     r.cfg.Security.AllowedMethods,
		AllowHeaders:     r.cfg.Security.AllowedHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: r.cfg.Security.AllowCredentials,
		MaxAge:           maxAge,
	}))

	if r.cfg.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.Level(r.cfg.Server.CompressionLevel),
			Next: func(c fiber.Ctx) bool {
				// compressed event streams are buffered by clients
				return strings.HasSuffix(c.Path(), "/progress")
			},
		}))
	}

	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","request_id":"${locals:requestid}","level":"info","component":"http","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health"
		},
	}))
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Info().Str("address", address).Msg("server starting")
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":     "ok",
			"timestamp":  utils.UTCNow().Unix(),
			"version":    docs.SwaggerInfo.Version,
			"service":    "astro-dispatch",
			"deployment": r.cfg.Deployment.Environment,
		},
	})
}

func (r *FiberRouter) serveSwaggerJSON(c fiber.Ctx) error {
	c.Set("Content-Type", "application/json")
	return c.SendString(docs.SwaggerInfo.ReadDoc())
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	errCode := "INTERNAL_ERROR"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		if code < fiber.StatusInternalServerError {
			message = fe.Message
			errCode = "REQUEST_ERROR"
		}
	}
	if code >= fiber.StatusInternalServerError {
		r.logger.Error().Err(err).Int("status", code).Str("path", c.Path()).Msg("unhandled error")
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errCode,
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
