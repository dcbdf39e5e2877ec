package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	videoreceiver "github.com/e7canasta/orion-care-sensor/modules/video-receiver"
	"github.com/e7canasta/orion-care-sensor/modules/video-receiver/internal/logging"
)

const (
	requestLimit    = 60
	requestWindow   = time.Minute
	shutdownTimeout = 5 * time.Second
)

// statusReporter is the part of the receiver the HTTP server reads.
type statusReporter interface {
	Status() videoreceiver.Status
}

// readiness is the /readiness body.
type readiness struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	State         string `json:"state"`
	URI           string `json:"uri,omitempty"`
	Streaming     bool   `json:"streaming"`
	VideoRunning  bool   `json:"video_running"`
	Recording     bool   `json:"recording"`
	Location      string `json:"location,omitempty"`
}

type server struct {
	receiver statusReporter
	started  time.Time
}

func newRouter(rs statusReporter) http.Handler {
	s := &server{receiver: rs, started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.Limit(
		requestLimit,
		requestWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(requestWindow.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	))

	r.Get("/health", s.liveness)
	r.Get("/readiness", s.readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// liveness answers as long as the process can serve requests.
func (s *server) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// readiness reports unhealthy while no stream is configured or the receiver
// is idle, degraded while the stream is up but frames are stale.
func (s *server) readiness(w http.ResponseWriter, _ *http.Request) {
	st := s.receiver.Status()
	body := readiness{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		State:         st.State.String(),
		URI:           st.URI,
		Streaming:     st.Streaming,
		VideoRunning:  st.VideoRunning,
		Recording:     st.Recording,
		Location:      st.Location,
	}

	code := http.StatusOK
	switch {
	case st.URI == "" || st.State == videoreceiver.StateIdle:
		body.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case !st.Streaming || !st.VideoRunning:
		body.Status = "degraded"
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// serveHTTP serves h on addr until ctx is cancelled. An empty addr disables
// the server.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	if addr == "" {
		return nil
	}
	logger := logging.GetLogger("http")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	<-errc
	return nil
}
