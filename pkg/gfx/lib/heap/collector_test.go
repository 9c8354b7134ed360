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

package libheap_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	. "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
)

func gatherValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()

	mfs, err := g.Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch mf.GetType() {
			case model.MetricType_GAUGE:
				return m.GetGauge().GetValue()
			case model.MetricType_COUNTER:
				return m.GetCounter().GetValue()
			}
		}
	}

	require.Failf(t, "metric not found", "%s%v", name, labels)
	return 0
}

func hasLabels(m *model.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestCollector(t *testing.T) {
	var (
		p       = newTestProvider()
		staging = map[string]string{"cache": "staging"}
		buffers = map[string]string{"cache": "buffers"}
	)

	s, err := NewCache(p, WithName("staging"), WithBlockSize(1024), WithDedicatedThreshold(4096))
	require.NoError(t, err)
	b, err := NewCache(p, WithName("buffers"), WithBlockSize(2048))
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(s, b)))

	h1, err := s.Acquire(100, 1)
	require.NoError(t, err)
	h2, err := s.Acquire(100, 1)
	require.NoError(t, err)
	h3, err := s.Acquire(8192, 1)
	require.NoError(t, err)

	require.Equal(t, 1.0, gatherValue(t, reg, "heaps", staging))
	require.Equal(t, 1024.0, gatherValue(t, reg, "heap_bytes", staging))
	require.Equal(t, 200.0, gatherValue(t, reg, "used_bytes", staging))
	require.Equal(t, 824.0, gatherValue(t, reg, "free_bytes", staging))
	require.Equal(t, 2.0, gatherValue(t, reg, "allocations", staging))
	require.Equal(t, 1.0, gatherValue(t, reg, "dedicated_allocations", staging))
	require.Equal(t, 8192.0, gatherValue(t, reg, "dedicated_bytes", staging))
	require.Equal(t, 1.0, gatherValue(t, reg, "acquired_total",
		map[string]string{"cache": "staging", "path": "warm"}))
	require.Equal(t, 1.0, gatherValue(t, reg, "acquired_total",
		map[string]string{"cache": "staging", "path": "cold"}))
	require.Equal(t, 1.0, gatherValue(t, reg, "acquired_total",
		map[string]string{"cache": "staging", "path": "dedicated"}))
	require.Equal(t, 0.0, gatherValue(t, reg, "heaps", buffers))

	h1.Release()
	h2.Release()
	h3.Release()

	require.Equal(t, 0.0, gatherValue(t, reg, "heaps", staging))
	require.Equal(t, 1.0, gatherValue(t, reg, "evictions_total", staging))
	require.Equal(t, 2.0, gatherValue(t, reg, "backings_destroyed_total", staging))
}
