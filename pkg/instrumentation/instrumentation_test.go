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

package instrumentation_test

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/gpuheap/gpuheap/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/gpuheap/gpuheap/pkg/instrumentation"
	_ "github.com/gpuheap/gpuheap/pkg/metrics/collectors"
)

func get(t *testing.T, url string) int {
	t.Helper()

	rpl, err := http.Get(url)
	require.NoError(t, err)
	defer rpl.Body.Close()

	_, err = io.ReadAll(rpl.Body)
	require.NoError(t, err)

	return rpl.StatusCode
}

func TestPrometheusExport(t *testing.T) {
	cfg := &cfgapi.Config{
		HTTPEndpoint: "127.0.0.1:0",
		Metrics: &cfgapi.MetricsConfig{
			Enabled: []string{"standard"},
		},
	}

	require.NoError(t, instrumentation.Reconfigure(cfg))
	defer instrumentation.Stop()

	addr := instrumentation.HTTPServer().GetAddress()
	require.NotEmpty(t, addr)

	require.Equal(t, http.StatusOK, get(t, "http://"+addr+"/healthz"))
	require.Equal(t, http.StatusNotFound, get(t, "http://"+addr+"/metrics"))
	require.Nil(t, instrumentation.Gatherer())

	cfg.PrometheusExport = true
	require.NoError(t, instrumentation.Reconfigure(cfg))

	addr = instrumentation.HTTPServer().GetAddress()
	require.Equal(t, http.StatusOK, get(t, "http://"+addr+"/metrics"))
	require.NotNil(t, instrumentation.Gatherer())

	cfg.PrometheusExport = false
	require.NoError(t, instrumentation.Reconfigure(cfg))

	addr = instrumentation.HTTPServer().GetAddress()
	require.Equal(t, http.StatusNotFound, get(t, "http://"+addr+"/metrics"))
}

func TestInvalidMetricsConfiguration(t *testing.T) {
	cfg := &cfgapi.Config{
		HTTPEndpoint:     "127.0.0.1:0",
		PrometheusExport: true,
		Metrics: &cfgapi.MetricsConfig{
			Enabled: []string{"no-such-collector"},
		},
	}

	require.Error(t, instrumentation.Reconfigure(cfg))
	require.Empty(t, instrumentation.HTTPServer().GetAddress())
}
