package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vestvault/native/presale"
	"vestvault/native/system"
	"vestvault/native/vesting"
	"vestvault/observability"
	"vestvault/services/custodyd/storage"
)

const headerRequestID = "X-Request-ID"

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	MaxSkew       time.Duration
	RateLimit     RateLimit
}

// Deps are the engines and sinks served by the API.
type Deps struct {
	Presale *presale.Engine
	Vesting *vesting.Engine
	Pauses  *system.Pauses
	Journal *storage.Journal
	Hub     *Hub
	Now     func() time.Time
}

// Server hosts the custody API.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	presale *presale.Engine
	vesting *vesting.Engine
	pauses  *system.Pauses
	journal *storage.Journal
	hub     *Hub
	auth    *SignatureAuth
	limiter *RateLimiter
}

// New constructs a server.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Presale == nil || deps.Vesting == nil || deps.Pauses == nil {
		return nil, fmt.Errorf("presale, vesting and pause engines required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(logger)
	}
	var nonces NonceStore
	if deps.Journal != nil {
		nonces = deps.Journal
	}
	limiter, err := NewRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		presale: deps.Presale,
		vesting: deps.Vesting,
		pauses:  deps.Pauses,
		journal: deps.Journal,
		hub:     deps.Hub,
		auth:    NewSignatureAuth(cfg.MaxSkew, deps.Now, nonces),
		limiter: limiter,
	}, nil
}

// Hub returns the websocket fan-out so it can be registered as an emitter.
func (s *Server) Hub() *Hub { return s.hub }

// HydrateNonces reloads request nonces still inside the replay window.
func (s *Server) HydrateNonces(ctx context.Context) error {
	n, err := s.auth.Hydrate(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("request nonces restored", slog.Int("count", n))
	return nil
}

// Handler assembles the routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/vaults", s.handleListVaults)
		api.Get("/vaults/{vault}", s.handleGetVault)
		api.Get("/vaults/{vault}/quote", s.handleQuote)
		api.Get("/vesting/{reserveType}", s.handleGetVestingAccount)
		api.Get("/vesting/{reserveType}/reserves/{beneficiary}", s.handleGetReserve)
		api.Get("/admin/pause", s.handlePauseSnapshot)
		api.Get("/events", s.handleEvents)
		api.Handle("/events/ws", s.hub)

		api.Group(func(signed chi.Router) {
			signed.Use(s.limiter.Middleware("signed"))
			signed.Use(s.auth.Middleware)

			signed.Post("/vaults", s.handleInitializeVault)
			signed.Put("/vaults/{vault}/price", s.handleUpdatePrice)
			signed.Post("/vaults/{vault}/deposit", s.handleDeposit)
			signed.Post("/vaults/{vault}/withdraw", s.handleWithdraw)
			signed.Post("/vaults/{vault}/transfer", s.handleTransfer)
			signed.Post("/vaults/{vault}/close", s.handleCloseVault)
			signed.Post("/vaults/{vault}/purchase", s.handlePurchase)

			signed.Post("/vesting", s.handleCreateVestingAccount)
			signed.Post("/vesting/{reserveType}/reserves", s.handleCreateReserve)
			signed.Post("/vesting/{reserveType}/claim", s.handleClaim)
			signed.Post("/vesting/{reserveType}/close", s.handleCloseReserve)

			signed.Put("/admin/pause/{module}", s.handleSetPaused)
		})
	})
	return otelhttp.NewHandler(r, "custodyd")
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("custodyd http server listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.API().Observe(route, r.Method, status, time.Since(start))
		s.logger.Debug("request served",
			slog.String("requestId", ww.Header().Get(headerRequestID)),
			slog.String("route", route),
			slog.String("method", r.Method),
			slog.Int("status", status),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// fail writes err and records it against the route and operation.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := writeEngineError(w, err)
	observability.API().RecordError(routePattern(r), code)
	observability.Custody().RecordRejection(op, code)
	if code == "INTERNAL" {
		s.logger.Error("request failed", slog.String("route", routePattern(r)), slog.Any("error", err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "subscribers": s.hub.Subscribers()})
}
