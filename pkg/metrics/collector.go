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
	"path"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/gpuheap/gpuheap/pkg/log"
)

var (
	log  = logger.Get("metrics")
	clog = logger.Get("collector")
)

// State is a set of flags describing how a collector is gathered.
type State int

const (
	// Enabled collectors are gathered.
	Enabled State = 1 << iota
	// Polled collectors are gathered from a snapshot taken by periodic
	// polling instead of being collected on demand. Useful for metrics
	// too expensive to collect for every scrape.
	Polled
	// NamespacePrefix prefixes metric names with the gatherer namespace.
	NamespacePrefix
	// SubsystemPrefix prefixes metric names with the collector group name.
	SubsystemPrefix
)

// IsEnabled returns true if the Enabled flag is set.
func (s State) IsEnabled() bool { return s&Enabled != 0 }

// IsPolled returns true if the Polled flag is set.
func (s State) IsPolled() bool { return s&Polled != 0 }

// NeedsNamespace returns true if the NamespacePrefix flag is set.
func (s State) NeedsNamespace() bool { return s&NamespacePrefix != 0 }

// NeedsSubsystem returns true if the SubsystemPrefix flag is set.
func (s State) NeedsSubsystem() bool { return s&SubsystemPrefix != 0 }

func (s State) String() string {
	flags := []string{"disabled"}
	if s.IsEnabled() {
		flags[0] = "enabled"
	}
	for _, f := range []struct {
		set  bool
		name string
	}{
		{s.IsPolled(), "polled"},
		{s.NeedsNamespace(), "namespace-prefixed"},
		{s.NeedsSubsystem(), "subsystem-prefixed"},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	return strings.Join(flags, ",")
}

// Collector wraps a prometheus.Collector registered under a name in a group.
type Collector struct {
	sync.Mutex
	State
	collector prometheus.Collector
	name      string
	group     string
	snapshot  []prometheus.Metric
}

// CollectorOption is an option for a Collector.
type CollectorOption func(*Collector)

// WithoutNamespace turns off namespace prefixing for a collector.
func WithoutNamespace() CollectorOption {
	return func(c *Collector) {
		c.State &^= NamespacePrefix
	}
}

// WithoutSubsystem turns off group prefixing for a collector.
func WithoutSubsystem() CollectorOption {
	return func(c *Collector) {
		c.State &^= SubsystemPrefix
	}
}

// WithPolled marks a collector polled.
func WithPolled() CollectorOption {
	return func(c *Collector) {
		c.State |= Polled
	}
}

// NewCollector wraps the given prometheus.Collector.
func NewCollector(name string, collector prometheus.Collector, options ...CollectorOption) *Collector {
	c := &Collector{
		name:      name,
		collector: collector,
		State:     Enabled | NamespacePrefix | SubsystemPrefix,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Name returns the qualified name, group/name, of the collector.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// Matches checks if the collector, its group, or its qualified name
// matches the given glob.
func (c *Collector) Matches(glob string) bool {
	for _, name := range []string{c.group, c.name, c.Name()} {
		if glob == name {
			return true
		}
		ok, err := path.Match(glob, name)
		if err != nil {
			log.Warn("invalid glob %q: %v", glob, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.collector.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	state := c.state()
	if !state.IsEnabled() {
		return
	}

	if !state.IsPolled() {
		clog.Debug("collecting %s", c.Name())
		c.collector.Collect(ch)
		return
	}

	c.Lock()
	snapshot := c.snapshot
	c.Unlock()

	clog.Debug("collecting %s from last poll", c.Name())
	for _, m := range snapshot {
		ch <- m
	}
}

// Poll takes a new snapshot of an enabled polled collector.
func (c *Collector) Poll() {
	state := c.state()
	if !state.IsEnabled() || !state.IsPolled() {
		return
	}

	clog.Debug("polling %s", c.Name())

	ch := make(chan prometheus.Metric, 32)
	go func() {
		c.collector.Collect(ch)
		close(ch)
	}()

	snapshot := make([]prometheus.Metric, 0, 16)
	for m := range ch {
		snapshot = append(snapshot, m)
	}

	c.Lock()
	c.snapshot = snapshot
	c.Unlock()
}

// Enable enables or disables the collector.
func (c *Collector) Enable(state bool) {
	c.setFlag(Enabled, state)
}

// Polled switches the collector to or from polled mode.
func (c *Collector) Polled(state bool) {
	c.setFlag(Polled, state)
}

func (c *Collector) setFlag(flag State, state bool) {
	c.Lock()
	defer c.Unlock()
	if state {
		c.State |= flag
	} else {
		c.State &^= flag
	}
}

func (c *Collector) state() State {
	c.Lock()
	defer c.Unlock()
	return c.State
}
