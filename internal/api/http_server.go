package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"kostbook/internal/config"
	"kostbook/internal/export"
	"kostbook/internal/logging"
	"kostbook/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReadinessCheck reports whether dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// HTTPServer exposes the JSON API for renters and owners.
type HTTPServer struct {
	cfg     *config.APIConfig
	engine  Engine
	exports *export.OwnerBookings
	auth    *SessionAuth
	limiter *rateLimiter
	ready   ReadinessCheck
	server  *http.Server
	log     zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, engine Engine, exports *export.OwnerBookings, ready ReadinessCheck, logger *zerolog.Logger) *HTTPServer {
	l := logging.Component(logger, "http")
	if exports == nil {
		exports = export.NewOwnerBookings("", time.UTC)
	}

	srv := &HTTPServer{
		cfg:     cfg,
		engine:  engine,
		exports: exports,
		auth:    NewSessionAuth(cfg.JWT),
		limiter: newRateLimiter(cfg.RateLimit),
		ready:   ready,
		log:     l,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the router; tests mount it on httptest servers.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, s.requestID, s.accessLog, middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit, s.auth.Middleware)

		r.Get("/kosts/{kostID}/available-rooms", s.handleAvailableRooms)

		r.Post("/bookings", s.handleCreateBooking)
		r.Get("/bookings", s.handleListBookings)
		r.Get("/bookings/active", s.handleActiveBooking)
		r.Get("/bookings/{bookingID}", s.handleGetBooking)
		r.Post("/bookings/{bookingID}/transitions", s.handleTransition)
		r.Post("/checkin", s.handleCheckin)

		r.Route("/owner", func(r chi.Router) {
			r.Get("/bookings", s.handleOwnerBookings)
			r.Get("/bookings/export", s.handleOwnerExport)
			r.Get("/kosts", s.handleOwnerKosts)
			r.Patch("/kosts/{kostID}", s.handleUpdateKost)
			r.Put("/rooms/{roomID}/status", s.handleRoomStatus)
		})

		r.Post("/admin/sweep", s.handleSweep)
	})

	return r
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		metrics.IncHTTP(endpoint)

		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		if requestID == "" {
			requestID = w.Header().Get(requestIDHeader)
		}
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(remoteKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return clientKeyUnknown
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeEngineError maps a domain error to its status code.
func (s *HTTPServer) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusFor(err)
	if code == http.StatusInternalServerError {
		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		s.log.Error().Err(err).Str("request_id", requestID).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, code, publicMessage(err, code))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
