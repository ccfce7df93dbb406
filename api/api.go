package api

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/metrics"
	"github.com/papercomputeco/engram/pkg/recall"
)

// Server is the API server for querying memories and pipeline statistics.
type Server struct {
	config   Config
	recaller *recall.Service
	logger   *zap.Logger
	app      *fiber.App
}

// NewServer creates a new API server. The recall service is injected so it
// can share stores with the retention worker running in the same process.
// The metrics handle may be nil, in which case /metrics is not registered.
func NewServer(config Config, recaller *recall.Service, m *metrics.Metrics, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:   config,
		recaller: recaller,
		logger:   logger,
		app:      app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/v1/recall", s.handleRecall)
	app.Get("/v1/stats", s.handleStats)
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
