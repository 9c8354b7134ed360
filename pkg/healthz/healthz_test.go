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

package healthz_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gpuheap/gpuheap/pkg/healthz"
	xhttp "github.com/gpuheap/gpuheap/pkg/http"
)

func TestHealthz(t *testing.T) {
	mux := xhttp.NewServeMux()
	healthz.Setup(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	get := func() (int, string) {
		rpl, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer rpl.Body.Close()
		body, err := io.ReadAll(rpl.Body)
		require.NoError(t, err)
		return rpl.StatusCode, string(body)
	}

	code, body := get()
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	var status atomic.Int32
	require.NoError(t, healthz.RegisterHealthChecker("provider", func() (healthz.Status, error) {
		if s := healthz.Status(status.Load()); s != healthz.Healthy {
			return s, errors.New("backing memory exhausted")
		}
		return healthz.Healthy, nil
	}))
	defer healthz.UnregisterHealthChecker("provider")

	require.Error(t, healthz.RegisterHealthChecker("provider", nil))

	code, _ = get()
	require.Equal(t, http.StatusOK, code)

	status.Store(int32(healthz.Degraded))
	code, body = get()
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "provider: degraded: backing memory exhausted\n", body)

	s, details := healthz.Check()
	require.Equal(t, healthz.Degraded, s)
	require.Len(t, details, 1)
}
