package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/kros/pkg/behaviour"
	"github.com/cuemby/kros/pkg/bus"
	"github.com/cuemby/kros/pkg/log"
	"github.com/cuemby/kros/pkg/metrics"
	"github.com/cuemby/kros/pkg/notify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
)

// BusInspector is the read-only view of the bus
type BusInspector interface {
	Stats() bus.Stats
	Subscribers() []bus.SubscriberInfo
	Publishers() []string
	TaskNames() []string
}

// BehaviourInspector is the read-only view of the arbitrator
type BehaviourInspector interface {
	Info() []behaviour.Info
	ActiveBehaviourName() string
}

// NotificationSource hands out notification subscriptions
type NotificationSource interface {
	Subscribe() notify.Subscriber
	Unsubscribe(sub notify.Subscriber)
}

// Config holds server settings
type Config struct {
	Addr string
	// RateLimitPerMinute caps /v1 requests per client IP; zero disables it
	RateLimitPerMinute int
}

// Server is the diagnostics HTTP server
type Server struct {
	cfg           Config
	bus           BusInspector
	behaviours    BehaviourInspector
	notifications NotificationSource
	router        chi.Router
	http          *http.Server
	logger        zerolog.Logger

	// streams ends open notification streams once shutdown begins
	streams     context.Context
	stopStreams context.CancelFunc
}

// NewServer creates the server. behaviours and notifications may be nil.
func NewServer(cfg Config, b BusInspector, behaviours BehaviourInspector, notifications NotificationSource) *Server {
	s := &Server{
		cfg:           cfg,
		bus:           b,
		behaviours:    behaviours,
		notifications: notifications,
		logger:        log.WithComponent("api"),
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.http.RegisterOnShutdown(s.stopStreams)
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(
				s.cfg.RateLimitPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Retry-After", "60")
					writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limit_exceeded"})
				}),
			))
		}
		r.Get("/bus", s.handleBus)
		r.Get("/subscribers", s.handleSubscribers)
		r.Get("/behaviours", s.handleBehaviours)
		r.Get("/notifications", s.handleNotifications)
	})
	return r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("diagnostics server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("diagnostics server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for open requests until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.stopStreams()
	return s.http.Shutdown(ctx)
}
