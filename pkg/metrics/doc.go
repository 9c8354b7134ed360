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

// Package metrics is a thin layer over prometheus for grouping collectors,
// enabling and disabling them at runtime with glob patterns, prefixing
// metric names with a common namespace and group, and serving expensive
// metrics from periodically polled snapshots.
//
// Usage:
//
//	metrics.MustRegister("caches", libheap.NewCollector(staging, buffers),
//	    metrics.WithGroup("heap"))
//
//	g, err := metrics.NewGatherer(
//	    metrics.WithNamespace("gpuheap"),
//	    metrics.WithMetrics([]string{"heap", "standard"}, nil),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	http.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
package metrics
