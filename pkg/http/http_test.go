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

package http_test

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	xhttp "github.com/gpuheap/gpuheap/pkg/http"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	rpl, err := http.Get(url)
	require.NoError(t, err)
	defer rpl.Body.Close()

	body, err := io.ReadAll(rpl.Body)
	require.NoError(t, err)

	return rpl.StatusCode, string(body)
}

func TestServerLifecycle(t *testing.T) {
	srv := xhttp.NewServer()
	srv.GetMux().HandleFunc("/hello", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("hello"))
	})

	require.NoError(t, srv.Start("127.0.0.1:0"))
	addr := srv.GetAddress()
	require.NotEmpty(t, addr)

	code, body := get(t, "http://"+addr+"/hello")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "hello", body)

	require.Error(t, srv.Start("127.0.0.1:0"), "already running")

	require.NoError(t, srv.Reconfigure("127.0.0.1:0"))
	require.Equal(t, addr, srv.GetAddress(), "port 0 matches the running server")

	srv.GetMux().Unregister("/hello")
	code, _ = get(t, "http://"+addr+"/hello")
	require.Equal(t, http.StatusNotFound, code)

	srv.Stop()
	require.Empty(t, srv.GetAddress())

	_, err := http.Get("http://" + addr + "/hello")
	require.Error(t, err)
}

func TestDisabledServer(t *testing.T) {
	srv := xhttp.NewServer()
	require.NoError(t, srv.Start(""))
	require.Empty(t, srv.GetAddress())
	srv.Stop()
}
