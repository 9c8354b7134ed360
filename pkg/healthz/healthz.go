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

// Package healthz serves the combined status of registered health checkers.
package healthz

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	xhttp "github.com/gpuheap/gpuheap/pkg/http"
	logger "github.com/gpuheap/gpuheap/pkg/log"
)

// Status describes the health of a component or the whole.
type Status int

const (
	Healthy Status = iota
	Degraded
	NonFunctional
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case NonFunctional:
		return "non-functional"
	}
	return fmt.Sprintf("<status %d>", int(s))
}

// CheckFn checks the health of a component.
type CheckFn func() (Status, error)

var (
	lock     sync.Mutex
	checkers = map[string]CheckFn{}
	log      = logger.Get("health-check")
)

// Setup registers the /healthz handler with the given multiplexer.
func Setup(mux *xhttp.ServeMux) {
	mux.HandleFunc("/healthz", serve)
}

// RegisterHealthChecker registers a health checker under the given name.
func RegisterHealthChecker(name string, fn CheckFn) error {
	lock.Lock()
	defer lock.Unlock()

	if _, ok := checkers[name]; ok {
		return fmt.Errorf("healthz: checker %q already registered", name)
	}
	checkers[name] = fn

	return nil
}

// UnregisterHealthChecker removes the health checker with the given name.
func UnregisterHealthChecker(name string) {
	lock.Lock()
	defer lock.Unlock()
	delete(checkers, name)
}

// Check runs all health checkers and returns the worst status reported,
// together with the details reported by unhealthy components.
func Check() (Status, []string) {
	lock.Lock()
	defer lock.Unlock()

	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	slices.Sort(names)

	status := Healthy
	details := []string{}
	for _, name := range names {
		s, err := checkers[name]()
		if s == Healthy {
			continue
		}
		status = max(status, s)
		msg := fmt.Sprintf("%s: %s", name, s)
		if err != nil {
			msg += ": " + err.Error()
		}
		details = append(details, msg)
		log.Warn("component %s", msg)
	}

	return status, details
}

func serve(w http.ResponseWriter, _ *http.Request) {
	status, details := Check()

	if status == Healthy {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Error("failed to write response: %v", err)
		}
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte(strings.Join(details, "\n") + "\n")); err != nil {
		log.Error("failed to write response: %v", err)
	}
}
