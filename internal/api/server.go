package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/emberhaus/emberlink/internal/area"
	"github.com/emberhaus/emberlink/internal/audit"
	"github.com/emberhaus/emberlink/internal/auth"
	"github.com/emberhaus/emberlink/internal/infrastructure/config"
	"github.com/emberhaus/emberlink/internal/infrastructure/database"
	"github.com/emberhaus/emberlink/internal/infrastructure/influxdb"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
	"github.com/emberhaus/emberlink/internal/pairing"
)

const gracefulShutdownTimeout = 10 * time.Second

// Deps are the collaborators the server needs. All are required except
// Telemetry, which may be nil when InfluxDB is disabled.
type Deps struct {
	Config    *config.Config
	Logger    *logging.Logger
	DB        *database.DB
	Auth      *auth.Service
	Pairing   *pairing.Manager
	Areas     area.Repository
	Audit     *audit.Trail
	Hub       *Hub
	Telemetry *influxdb.Client
}

// Server is the HTTP API and WebSocket endpoint.
type Server struct {
	cfg       *config.Config
	logger    *logging.Logger
	db        *database.DB
	auth      *auth.Service
	pairing   *pairing.Manager
	areas     area.Repository
	audit     *audit.Trail
	hub       *Hub
	telemetry *influxdb.Client

	httpServer  *http.Server
	upgrader    websocket.Upgrader
	verifyLimit *rateLimiter

	cancel context.CancelFunc
}

// New validates the dependency set and builds the server.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("api server requires config")
	case deps.DB == nil:
		return nil, fmt.Errorf("api server requires database")
	case deps.Auth == nil:
		return nil, fmt.Errorf("api server requires auth service")
	case deps.Pairing == nil:
		return nil, fmt.Errorf("api server requires pairing manager")
	case deps.Areas == nil:
		return nil, fmt.Errorf("api server requires area repository")
	case deps.Audit == nil:
		return nil, fmt.Errorf("api server requires audit trail")
	case deps.Hub == nil:
		return nil, fmt.Errorf("api server requires websocket hub")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		db:        deps.DB,
		auth:      deps.Auth,
		pairing:   deps.Pairing,
		areas:     deps.Areas,
		audit:     deps.Audit,
		hub:       deps.Hub,
		telemetry: deps.Telemetry,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	if deps.Config.Security.RateLimit.Enabled {
		s.verifyLimit = newRateLimiter(deps.Config.Security.RateLimit.VerifyPerHour, time.Hour)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", deps.Config.API.Host, deps.Config.API.Port),
		Handler:      s.routes(),
		ReadTimeout:  deps.Config.GetReadTimeout(),
		WriteTimeout: deps.Config.GetWriteTimeout(),
		IdleTimeout:  deps.Config.GetIdleTimeout(),
	}

	return s, nil
}

// routes builds the chi router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(bodySizeLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Get("/health", s.handleHealth)

		// The PIN itself is the proof of authorisation here; rate
		// limiting stands in for authentication.
		r.Post("/pairing/verify", s.handlePairingVerify)

		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/pairing", s.handlePairingStart)
			r.Get("/pairing", s.handlePairingList)
			r.Post("/pairing/{id}/complete", s.handlePairingComplete)
			r.Delete("/pairing/{id}", s.handlePairingCancel)

			r.Get("/clients", s.handleClientList)
			r.Get("/clients/{id}", s.handleClientGet)
			r.Delete("/clients/{id}", s.handleClientDelete)
			r.Post("/clients/{id}/revoke", s.handleClientRevoke)
			r.Put("/clients/{id}/areas", s.handleClientRescope)

			r.Get("/areas", s.handleAreaList)
			r.Post("/areas", s.handleAreaCreate)

			r.Get("/audit", s.handleAuditList)
		})
	})

	return r
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.housekeeping(srvCtx)
	go s.pairing.Run(srvCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.httpServer.Addr,
			"tls", s.cfg.API.TLS.Enabled)

		var err error
		if s.cfg.API.TLS.Enabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.API.TLS.CertFile, s.cfg.API.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		cancel()
		return fmt.Errorf("api server: %w", err)
	case <-srvCtx.Done():
		return s.shutdown()
	}
}

// housekeeping runs periodic maintenance: rate limiter pruning,
// credential retention, audit retention and the connection gauge.
func (s *Server) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maintain()
		}
	}
}

func (s *Server) maintain() {
	if s.verifyLimit != nil {
		s.verifyLimit.prune()
	}

	retention := time.Duration(s.cfg.Security.Client.RetentionDays) * 24 * time.Hour
	if n, err := s.auth.PurgeDefunctCredentials(retention); err != nil {
		s.logger.Error("credential retention sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("defunct credentials purged", "count", n)
	}

	if days := s.cfg.Audit.RetentionDays; days > 0 {
		if n, err := s.audit.Purge(time.Duration(days) * 24 * time.Hour); err != nil {
			s.logger.Error("audit retention sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("aged audit entries purged", "count", n)
		}
	}

	s.telemetry.RecordConnections(s.hub.Count())
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("api server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}

// Close stops the server if it is running.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}
