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

package libheap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the Stats of a set of caches as prometheus metrics,
// labeled by cache name.
type Collector struct {
	caches      []*Cache
	heaps       *prometheus.Desc
	heapBytes   *prometheus.Desc
	usedBytes   *prometheus.Desc
	freeBytes   *prometheus.Desc
	freeRegions *prometheus.Desc
	allocations *prometheus.Desc
	pending     *prometheus.Desc
	dedicated   *prometheus.Desc
	dedBytes    *prometheus.Desc
	acquired    *prometheus.Desc
	failures    *prometheus.Desc
	created     *prometheus.Desc
	destroyed   *prometheus.Desc
	evictions   *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a prometheus collector for the given caches.
func NewCollector(caches ...*Cache) *Collector {
	label := []string{"cache"}
	desc := func(name, help string, extra ...string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, append(label, extra...), nil)
	}

	return &Collector{
		caches:      caches,
		heaps:       desc("heaps", "Number of live heaps."),
		heapBytes:   desc("heap_bytes", "Total size of live heaps."),
		usedBytes:   desc("used_bytes", "Bytes allocated from heaps, alignment padding included."),
		freeBytes:   desc("free_bytes", "Bytes available in heaps."),
		freeRegions: desc("free_regions", "Number of free regions in heaps."),
		allocations: desc("allocations", "Number of live allocations from heaps."),
		pending:     desc("pending_releases", "Number of regions held back for frame-delayed release."),
		dedicated:   desc("dedicated_allocations", "Number of live dedicated backing allocations."),
		dedBytes:    desc("dedicated_bytes", "Total size of live dedicated backing allocations."),
		acquired:    desc("acquired_total", "Number of successful allocations by path.", "path"),
		failures:    desc("failures_total", "Number of failed allocations."),
		created:     desc("backings_created_total", "Number of backing allocations created."),
		destroyed:   desc("backings_destroyed_total", "Number of backing allocations destroyed."),
		evictions:   desc("evictions_total", "Number of heaps evicted once entirely free."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.heaps, c.heapBytes, c.usedBytes, c.freeBytes, c.freeRegions,
		c.allocations, c.pending, c.dedicated, c.dedBytes,
		c.acquired, c.failures, c.created, c.destroyed, c.evictions,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, cache := range c.caches {
		s := cache.Stats()
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Name)
		}
		counter := func(d *prometheus.Desc, v uint64, extra ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v),
				append([]string{s.Name}, extra...)...)
		}

		gauge(c.heaps, float64(s.Heaps))
		gauge(c.heapBytes, float64(s.HeapBytes))
		gauge(c.usedBytes, float64(s.UsedBytes))
		gauge(c.freeBytes, float64(s.FreeBytes))
		gauge(c.freeRegions, float64(s.FreeRegions))
		gauge(c.allocations, float64(s.Allocations))
		gauge(c.pending, float64(s.PendingReleases))
		gauge(c.dedicated, float64(s.Dedicated))
		gauge(c.dedBytes, float64(s.DedicatedBytes))

		counter(c.acquired, s.WarmAllocations, "warm")
		counter(c.acquired, s.ColdAllocations, "cold")
		counter(c.acquired, s.DedicatedAllocations, "dedicated")
		counter(c.failures, s.Failures)
		counter(c.created, s.BackingsCreated)
		counter(c.destroyed, s.BackingsDestroyed)
		counter(c.evictions, s.Evictions)
	}
}
