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

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
)

const (
	// MinPollInterval is the shortest allowed polling interval.
	MinPollInterval = 5 * time.Second
	// DefaultPollInterval is the default polling interval.
	DefaultPollInterval = 30 * time.Second
)

// Gatherer is a prometheus.Gatherer for the enabled collectors of a Registry.
type Gatherer struct {
	*prometheus.Registry
	lock         sync.Mutex
	r            *Registry
	namespace    string
	pollInterval time.Duration
	enabled      []string
	polled       []string
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

// WithNamespace sets the namespace prefix for collectors which use one.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithPollInterval sets the interval for polling polled collectors.
func WithPollInterval(interval time.Duration) GathererOption {
	return func(g *Gatherer) {
		g.pollInterval = max(interval, MinPollInterval)
	}
}

// WithoutPolling turns off periodic polling. Polled collectors are then
// only refreshed by explicit calls to Poll.
func WithoutPolling() GathererOption {
	return func(g *Gatherer) {
		g.pollInterval = 0
	}
}

// WithMetrics sets the globs for enabled and polled collectors.
func WithMetrics(enabled, polled []string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = enabled
		g.polled = polled
	}
}

// NewGatherer creates a Gatherer for the registry and starts polling if
// any enabled collector is in polled mode.
func (r *Registry) NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		Registry:     prometheus.NewPedanticRegistry(),
		r:            r,
		pollInterval: DefaultPollInterval,
	}

	for _, o := range opts {
		o(g)
	}

	if _, err := r.Configure(g.enabled, g.polled); err != nil {
		return nil, err
	}

	if err := r.register(g.Registry, prefixedRegisterer(g.namespace, g.Registry)); err != nil {
		return nil, err
	}

	g.start()

	return g, nil
}

// NewGatherer creates a Gatherer for the default Registry.
func NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	return Default().NewGatherer(opts...)
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.Registry.Gather()
}

// Poll refreshes the snapshots of all polled collectors.
func (g *Gatherer) Poll() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.r.Poll()
}

// Stop stops periodic polling.
func (g *Gatherer) Stop() {
	g.lock.Lock()
	stopCh, doneCh := g.stopCh, g.doneCh
	g.stopCh, g.doneCh = nil, nil
	g.lock.Unlock()

	if stopCh == nil {
		return
	}

	close(stopCh)
	<-doneCh
}

func (g *Gatherer) start() {
	switch {
	case !g.r.State().IsPolled():
		log.Info("no polled collectors, not polling")
		return
	case g.pollInterval == 0:
		log.Info("periodic polling disabled")
		return
	}

	log.Info("polling collectors every %s", g.pollInterval)

	g.Poll()

	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	go g.poller(g.stopCh, g.doneCh)
}

func (g *Gatherer) poller(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			g.Poll()
		}
	}
}
