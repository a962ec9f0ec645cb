// Package metrics implements the registry of injection counters and gauges
// and the pull-based exposition endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide injection metrics. It is initialized once
// at startup and injected into the components that report to it; a metrics
// write never fails and never affects injection logic.
type Metrics struct {
	// InjectionsTotal counts dispatch attempts per failure type and outcome
	InjectionsTotal *prometheus.CounterVec
	// InjectionActive is 1 while an injection of the given failure type
	// is in its effect window
	InjectionActive *prometheus.GaugeVec
}

// New creates the injection metrics registered in the given registerer.
// A nil registerer registers into a private throwaway registry, which keeps
// components usable in isolation.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		InjectionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "chaos_injections_total",
			Help: "Total number of chaos injection dispatch attempts.",
		}, []string{"failure_type", "status"}),

		InjectionActive: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "chaos_injection_active",
			Help: "Whether a chaos injection is currently active (1) or not (0).",
		}, []string{"failure_type"}),
	}
}

// RecordOutcome increments the counter for the given failure type and outcome
func (m *Metrics) RecordOutcome(failureType, status string) {
	m.InjectionsTotal.WithLabelValues(failureType, status).Inc()
}

// SetActive sets the active gauge for the given failure type to 1 or 0
func (m *Metrics) SetActive(failureType string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	m.InjectionActive.WithLabelValues(failureType).Set(value)
}

// Server serves the prometheus text exposition endpoint on /metrics
type Server struct {
	srv *http.Server
}

// NewServer returns a Server exposing the given gatherer on the given port
func NewServer(port int, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves the endpoint until Shutdown is called. It blocks, and is
// intended to run in its own goroutine.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the endpoint, waiting for in-flight scrapes
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
