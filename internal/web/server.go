package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/rideshare/internal/service"
)

type Server struct {
	flows    *service.CaptureService
	vehicles *service.VehicleService
	mux      *http.ServeMux
	logger   *slog.Logger
}

func NewServer(flows *service.CaptureService, vehicles *service.VehicleService, logger *slog.Logger) *Server {
	s := &Server{
		flows:    flows,
		vehicles: vehicles,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /vehicles", s.handleListVehicles)
	s.mux.HandleFunc("DELETE /vehicles/{id}", s.handleDeleteVehicle)

	s.mux.HandleFunc("POST /flows", s.handleBeginFlow)
	s.mux.HandleFunc("GET /flows/{id}", s.handleGetFlow)
	s.mux.HandleFunc("DELETE /flows/{id}", s.handleDiscardFlow)
	s.mux.HandleFunc("POST /flows/{id}/angles/{angle}/capture", s.handleStartCapture)
	s.mux.HandleFunc("POST /flows/{id}/angles/{angle}/retake", s.handleRetake)
	s.mux.HandleFunc("GET /flows/{id}/angles/{angle}/preview", s.handlePreview)
	s.mux.HandleFunc("DELETE /flows/{id}/session", s.handleCancelSession)
	s.mux.HandleFunc("POST /flows/{id}/session/retry", s.handleRetrySession)
	s.mux.HandleFunc("POST /flows/{id}/submit", s.handleSubmit)
	s.mux.HandleFunc("GET /flows/{id}/submissions", s.handleListSubmissions)
	s.mux.HandleFunc("GET /flows/{id}/events", s.handleEvents)
}

// securityHeaders sets browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"img-src 'self' data: blob:; "+
				"media-src 'self' blob:; "+
				"connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// HTTPServer returns an http.Server for addr. Event streams lift the write
// timeout for themselves.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
