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

// Package collectors registers the standard process collectors, and
// provides the heap cache and backing memory collectors.
package collectors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	libheap "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
	"github.com/gpuheap/gpuheap/pkg/hostmem"
	logger "github.com/gpuheap/gpuheap/pkg/log"
	"github.com/gpuheap/gpuheap/pkg/metrics"
	"github.com/gpuheap/gpuheap/pkg/version"
)

const (
	// StandardGroup is the group of the standard collectors.
	StandardGroup = "standard"
	// HeapGroup is the group of heap cache and backing memory collectors.
	HeapGroup = "heap"
)

var (
	log = logger.Get("metrics")
)

// NewVersionInfoCollector returns a constant gauge labeled with version and build.
func NewVersionInfoCollector(v, b string) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "version_info",
			Help: "A metric with constant '1' value labeled by version and build info.",
			ConstLabels: prometheus.Labels{
				"version": v,
				"build":   b,
			},
		},
		func() float64 { return 1 },
	)
}

// RegisterCaches registers a collector for the given caches in the heap
// group of the given registry, or the default one if r is nil.
func RegisterCaches(r *metrics.Registry, name string, caches ...*libheap.Cache) error {
	if r == nil {
		r = metrics.Default()
	}
	return r.Register(name, libheap.NewCollector(caches...), metrics.WithGroup(HeapGroup))
}

// NewProviderCollector returns a collector for host memory provider usage.
func NewProviderCollector(p *hostmem.Provider) prometheus.Collector {
	return &providerCollector{
		gauges: []prometheus.Collector{
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "backing_bytes",
					Help: "Bytes of host memory allocated for backings.",
				},
				func() float64 { return float64(p.InUse()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "backings",
					Help: "Number of live backing allocations.",
				},
				func() float64 { return float64(p.Count()) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "backing_limit_bytes",
					Help: "Limit of host memory for backings, 0 if unlimited.",
				},
				func() float64 { return float64(p.Limit()) },
			),
		},
	}
}

type providerCollector struct {
	gauges []prometheus.Collector
}

func (c *providerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		g.Describe(ch)
	}
}

func (c *providerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, g := range c.gauges {
		g.Collect(ch)
	}
}

// RegisterProvider registers a collector for the given provider in the heap
// group of the given registry, or the default one if r is nil.
func RegisterProvider(r *metrics.Registry, name string, p *hostmem.Provider) error {
	if r == nil {
		r = metrics.Default()
	}
	return r.Register(name, NewProviderCollector(p), metrics.WithGroup(HeapGroup))
}

func registerStandard() {
	var (
		standard = map[string]prometheus.Collector{
			"buildinfo":   collectors.NewBuildInfoCollector(),
			"golang":      collectors.NewGoCollector(),
			"process":     collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			"versioninfo": NewVersionInfoCollector(version.Version, version.Build),
		}
		options = []metrics.RegisterOption{
			metrics.WithGroup(StandardGroup),
			metrics.WithCollectorOptions(
				metrics.WithoutNamespace(),
				metrics.WithoutSubsystem(),
			),
		}
	)

	for name, collector := range standard {
		if err := metrics.Register(name, collector, options...); err != nil {
			log.Error("failed to register %s collector: %v", name, err)
		}
	}
}

func init() {
	registerStandard()
}
