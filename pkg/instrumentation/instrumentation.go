// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package instrumentation serves the HTTP endpoint of lite-gpu, with
// Prometheus /metrics for the enabled collectors and /healthz for the
// registered health checks.
package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgapi "github.com/alexzuosh/lite-gpu/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/alexzuosh/lite-gpu/pkg/healthz"
	logger "github.com/alexzuosh/lite-gpu/pkg/log"
	"github.com/alexzuosh/lite-gpu/pkg/metrics"
)

const (
	// shutdownTimeout is how long Stop waits for active requests.
	shutdownTimeout = 5 * time.Second
)

var (
	log = logger.NewLogger("instrumentation")
)

// Service is the state of our instrumentation services.
type Service struct {
	sync.Mutex
	cfg      *cfgapi.Config
	registry *metrics.Registry
	checker  *healthz.Checker
	listener net.Listener
	server   *http.Server
	gatherer *metrics.Gatherer
	done     chan struct{}
}

// Option is an option for the instrumentation service.
type Option func(*Service)

// WithRegistry sets the metrics registry to export, metrics.Default() by default.
func WithRegistry(r *metrics.Registry) Option {
	return func(s *Service) {
		s.registry = r
	}
}

// WithHealthChecker sets the health checks to serve, healthz.Default() by default.
func WithHealthChecker(c *healthz.Checker) Option {
	return func(s *Service) {
		s.checker = c
	}
}

// NewService creates an instrumentation service with the given configuration.
func NewService(cfg *cfgapi.Config, options ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		registry: metrics.Default(),
		checker:  healthz.Default(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Start starts our instrumentation services.
func (s *Service) Start() error {
	s.Lock()
	defer s.Unlock()

	return s.start()
}

// Stop stops our instrumentation services.
func (s *Service) Stop() {
	s.Lock()
	defer s.Unlock()

	s.stop()
}

// Reconfigure restarts our instrumentation services with a new configuration.
func (s *Service) Reconfigure(cfg *cfgapi.Config) error {
	s.Lock()
	defer s.Unlock()

	s.stop()
	s.cfg = cfg

	err := s.start()
	if err != nil {
		log.Error("failed to restart instrumentation: %v", err)
	}

	return err
}

// Address returns the address the HTTP server listens on, or an empty
// string if the server is not running.
func (s *Service) Address() string {
	s.Lock()
	defer s.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Gatherer returns the metrics gatherer if metrics are being exported.
func (s *Service) Gatherer() *metrics.Gatherer {
	s.Lock()
	defer s.Unlock()
	return s.gatherer
}

func (s *Service) start() error {
	if s.cfg == nil || s.cfg.HTTPEndpoint == "" {
		log.Info("no HTTP endpoint configured, instrumentation disabled")
		return nil
	}

	log.Info("starting instrumentation services...")

	mux := http.NewServeMux()
	mux.Handle("/healthz", s.checker)

	if s.cfg.PrometheusExport {
		var enabled, polled []string
		if m := s.cfg.Metrics; m != nil {
			enabled = slices.Clone(m.Enabled)
			polled = slices.Clone(m.Polled)
		}

		g, err := s.registry.NewGatherer(
			metrics.WithNamespace(s.cfg.Namespace),
			metrics.WithPollInterval(s.cfg.ReportPeriod.Duration),
			metrics.WithMetrics(enabled, polled),
		)
		if err != nil {
			return fmt.Errorf("failed to start metrics: %w", err)
		}

		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}))
		s.gatherer = g
	}

	l, err := net.Listen("tcp", s.cfg.HTTPEndpoint)
	if err != nil {
		s.stopMetrics()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.listener = l
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}(s.server, s.done)

	log.Info("HTTP server listening on %s", l.Addr())

	return nil
}

func (s *Service) stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			log.Error("failed to shut down HTTP server: %v", err)
		}
		<-s.done

		s.server = nil
		s.listener = nil
		s.done = nil
	}

	s.stopMetrics()
}

func (s *Service) stopMetrics() {
	if s.gatherer != nil {
		s.gatherer.Stop()
		s.gatherer = nil
	}
}
