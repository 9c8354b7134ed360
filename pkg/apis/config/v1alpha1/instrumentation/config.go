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

package instrumentation

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Config provides runtime configuration for instrumentation.
type Config struct {
	// ReportPeriod is the interval between collecting polled metrics.
	// +optional
	// +kubebuilder:validation:Format="duration"
	// +kubebuilder:default="30s"
	ReportPeriod metav1.Duration `json:"reportPeriod,omitempty"`
	// HTTPEndpoint is the address our HTTP server listens on. This endpoint is used
	// to expose Prometheus metrics and health checks. An empty endpoint disables
	// the HTTP server.
	// +optional
	// +kubebuilder:example=":8891"
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// PrometheusExport enables exporting /metrics for Prometheus.
	// +optional
	PrometheusExport bool `json:"prometheusExport,omitempty"`
	// Metrics defines which metrics to collect.
	// +kubebuilder:default={"enabled": {"heap", "buildinfo"}}
	Metrics *MetricsConfig `json:"metrics,omitempty"`
}

// MetricsConfig selects the collected metrics groups or collectors using glob patterns.
type MetricsConfig struct {
	// Enabled lists the enabled collectors or collector groups.
	// +optional
	Enabled []string `json:"enabled,omitempty"`
	// Polled lists collectors or groups which are forced to polled mode.
	// +optional
	Polled []string `json:"polled,omitempty"`
}

// EnabledMetrics returns the enabled metrics globs, defaulting to everything.
func (c *Config) EnabledMetrics() []string {
	if c == nil || c.Metrics == nil || len(c.Metrics.Enabled) == 0 {
		return []string{"*"}
	}
	return c.Metrics.Enabled
}

// PolledMetrics returns the polled metrics globs.
func (c *Config) PolledMetrics() []string {
	if c == nil || c.Metrics == nil {
		return nil
	}
	return c.Metrics.Polled
}
