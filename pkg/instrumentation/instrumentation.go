// Copyright The NRI Plugins Authors. All Rights Reserved.
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

// Package instrumentation serves metrics and health checks over HTTP.
package instrumentation

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgapi "github.com/gpuheap/gpuheap/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/gpuheap/gpuheap/pkg/healthz"
	"github.com/gpuheap/gpuheap/pkg/http"
	logger "github.com/gpuheap/gpuheap/pkg/log"
	"github.com/gpuheap/gpuheap/pkg/metrics"
)

const (
	// Namespace prefixes the names of namespaced metrics.
	Namespace = "gpuheap"
)

var (
	// Our runtime configuration.
	cfg = &cfgapi.Config{}
	// Lock to protect against reconfiguration.
	lock sync.Mutex
	// Our HTTP server instance.
	srv = http.NewServer()
	// Our metrics gatherer, if any.
	gatherer *metrics.Gatherer
	// Our logger instance.
	log = logger.Get("instrumentation")
)

func init() {
	healthz.Setup(srv.GetMux())
}

// HTTPServer returns our HTTP server.
func HTTPServer() *http.Server {
	return srv
}

// Gatherer returns our metrics gatherer, nil unless metrics are exported.
func Gatherer() *metrics.Gatherer {
	lock.Lock()
	defer lock.Unlock()
	return gatherer
}

// Start our instrumentation services.
func Start() error {
	lock.Lock()
	defer lock.Unlock()

	log.Info("starting instrumentation services...")

	return start()
}

// Stop our instrumentation services.
func Stop() {
	lock.Lock()
	defer lock.Unlock()

	stop()
}

// Reconfigure our instrumentation services.
func Reconfigure(newCfg *cfgapi.Config) error {
	lock.Lock()
	defer lock.Unlock()

	if newCfg == nil {
		newCfg = &cfgapi.Config{}
	}
	cfg = newCfg

	stop()
	if err := start(); err != nil {
		log.Error("failed to start instrumentation: %v", err)
		return err
	}

	return nil
}

func start() error {
	if err := srv.Start(cfg.HTTPEndpoint); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if !cfg.PrometheusExport {
		log.Info("metrics export disabled")
		return nil
	}

	opts := []metrics.GathererOption{
		metrics.WithNamespace(Namespace),
		metrics.WithMetrics(cfg.EnabledMetrics(), cfg.PolledMetrics()),
	}
	if period := cfg.ReportPeriod.Duration; period > 0 {
		opts = append(opts, metrics.WithPollInterval(period))
	}

	g, err := metrics.NewGatherer(opts...)
	if err != nil {
		srv.Stop()
		return fmt.Errorf("failed to start metrics: %w", err)
	}
	gatherer = g

	srv.GetMux().Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      log,
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return nil
}

func stop() {
	srv.GetMux().Unregister("/metrics")
	if gatherer != nil {
		gatherer.Stop()
		gatherer = nil
	}
	srv.Stop()
}
