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

package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	model "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/require"

	logger "github.com/gpuheap/gpuheap/pkg/log"
	"github.com/gpuheap/gpuheap/pkg/metrics"
)

func TestPrefixing(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "plain", metrics.WithCollectorOptions(metrics.WithoutSubsystem(),
		metrics.WithoutNamespace()))
	newTestGauge(t, r, "grouped", metrics.WithGroup("heap"), metrics.WithCollectorOptions(
		metrics.WithoutNamespace()))
	newTestGauge(t, r, "spaced", metrics.WithGroup("heap"), metrics.WithCollectorOptions(
		metrics.WithoutSubsystem()))
	newTestGauge(t, r, "full", metrics.WithGroup("heap"))
	newTestGauge(t, r, "default")

	srv := newTestServer(t, r, metrics.WithMetrics([]string{"*"}, nil),
		metrics.WithNamespace("gpuheap"))
	defer srv.stop()

	families := srv.scrape(t)
	for _, name := range []string{
		"plain",
		"heap_grouped",
		"gpuheap_spaced",
		"gpuheap_heap_full",
		"gpuheap_default_default",
	} {
		require.Contains(t, families, name)
		require.Equal(t, model.MetricType_GAUGE, families[name].GetType())
	}
}

func TestUpdatedValues(t *testing.T) {
	r := metrics.NewRegistry()

	g1 := newTestGauge(t, r, "test1", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	g2 := newTestGauge(t, r, "test2", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))

	srv := newTestServer(t, r, metrics.WithMetrics([]string{"*"}, nil))
	defer srv.stop()

	families := srv.scrape(t)
	require.Equal(t, 0.0, gaugeValue(families, "test1"))
	require.Equal(t, 0.0, gaugeValue(families, "test2"))

	g1.Inc()
	g2.Set(5)

	families = srv.scrape(t)
	require.Equal(t, 1.0, gaugeValue(families, "test1"))
	require.Equal(t, 5.0, gaugeValue(families, "test2"))

	g1.Set(4)
	g2.Dec()

	families = srv.scrape(t)
	require.Equal(t, 4.0, gaugeValue(families, "test1"))
	require.Equal(t, 4.0, gaugeValue(families, "test2"))
}

func TestConfiguration(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "test1", metrics.WithGroup("group1"))
	newTestGauge(t, r, "test2", metrics.WithGroup("group1"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test3", metrics.WithGroup("group2"),
		metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	newTestGauge(t, r, "test4", metrics.WithGroup("group2"))

	srv := newTestServer(t, r, metrics.WithMetrics([]string{"test1", "group2"}, nil))
	defer srv.stop()

	families := srv.scrape(t)
	require.Contains(t, families, "group1_test1")
	require.NotContains(t, families, "test2")
	require.Contains(t, families, "test3")
	require.Contains(t, families, "group2_test4")
}

func TestConfigurationErrors(t *testing.T) {
	r := metrics.NewRegistry()
	newTestGauge(t, r, "test1")

	_, err := r.NewGatherer(metrics.WithMetrics([]string{"test1", "nonexistent"}, nil))
	require.Error(t, err)

	require.Error(t, r.Register("test1", prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test1",
		Help: "duplicate",
	})))
}

func TestPolledCollection(t *testing.T) {
	r := metrics.NewRegistry()

	p1 := newTestPolled(t, r, "test1", metrics.WithCollectorOptions(metrics.WithoutSubsystem()))
	p2 := newTestPolled(t, r, "test2", metrics.WithCollectorOptions(metrics.WithoutSubsystem(),
		metrics.WithPolled()))

	srv := newTestServer(t, r, metrics.WithMetrics(nil, []string{"test1"}), metrics.WithoutPolling())
	defer srv.stop()

	require.True(t, r.State().IsPolled())

	p1.Set(1)
	p2.Set(2)

	families := srv.scrape(t)
	require.NotContains(t, families, "test1", "no poll yet")
	require.NotContains(t, families, "test2", "test2 is not enabled")

	srv.g.Poll()
	p1.Set(3)

	families = srv.scrape(t)
	require.Equal(t, 1.0, gaugeValue(families, "test1"), "value at last poll")
}

func newTestGauge(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: "Test gauge " + name,
	})
	require.NoError(t, r.Register(name, g, options...))
	return g
}

type testPolled struct {
	sync.Mutex
	desc  *prometheus.Desc
	value float64
}

func newTestPolled(t *testing.T, r *metrics.Registry, name string, options ...metrics.RegisterOption) *testPolled {
	p := &testPolled{
		desc: prometheus.NewDesc(name, "Test polled metric "+name, nil, nil),
	}
	require.NoError(t, r.Register(name, p, options...))
	return p
}

func (p *testPolled) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.desc
}

func (p *testPolled) Collect(ch chan<- prometheus.Metric) {
	p.Lock()
	v := p.value
	p.Unlock()
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, v)
}

func (p *testPolled) Set(v float64) {
	p.Lock()
	defer p.Unlock()
	p.value = v
}

type testServer struct {
	srv *httptest.Server
	g   *metrics.Gatherer
}

func newTestServer(t *testing.T, r *metrics.Registry, opts ...metrics.GathererOption) *testServer {
	g, err := r.NewGatherer(opts...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      logger.Get("metrics-test"),
		ErrorHandling: promhttp.PanicOnError,
	}))

	return &testServer{
		srv: httptest.NewServer(mux),
		g:   g,
	}
}

func (srv *testServer) scrape(t *testing.T) map[string]*model.MetricFamily {
	resp, err := http.Get(srv.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)

	return families
}

func (srv *testServer) stop() {
	srv.srv.Close()
	srv.g.Stop()
}

func gaugeValue(families map[string]*model.MetricFamily, name string) float64 {
	mf, ok := families[name]
	if !ok || len(mf.GetMetric()) == 0 {
		return -1
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}
