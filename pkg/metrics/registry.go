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
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultGroup is the group of collectors registered without WithGroup.
const DefaultGroup = "default"

// Group is a named set of collectors.
type Group struct {
	name       string
	collectors []*Collector
}

// Describe implements prometheus.Collector.
func (g *Group) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range g.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (g *Group) Collect(ch chan<- prometheus.Metric) {
	for _, c := range g.collectors {
		c.Collect(ch)
	}
}

func (g *Group) state() State {
	var state State
	for _, c := range g.collectors {
		state |= c.state()
	}
	return state
}

func (g *Group) poll() {
	var wg sync.WaitGroup
	for _, c := range g.collectors {
		wg.Add(1)
		go func(c *Collector) {
			defer wg.Done()
			c.Poll()
		}(c)
	}
	wg.Wait()
}

// register registers the collectors of the group with the registerer
// matching their prefixing needs.
func (g *Group) register(plain, namespaced prometheus.Registerer) error {
	for _, c := range g.collectors {
		reg := plain
		if c.NeedsNamespace() {
			reg = namespaced
		}
		if c.NeedsSubsystem() {
			reg = prefixedRegisterer(g.name, reg)
		}
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register collector %s: %w", c.Name(), err)
		}
	}
	return nil
}

// configure enables collectors matching any glob in enabled or polled,
// disables the rest, and forces the ones matching polled to polled mode.
// It records every glob that matched something in matched.
func (g *Group) configure(enabled, polled []string, matched map[string]bool) State {
	var state State

	for _, c := range g.collectors {
		enable := false
		for _, glob := range enabled {
			if c.Matches(glob) {
				matched[glob] = true
				enable = true
			}
		}
		for _, glob := range polled {
			if c.Matches(glob) {
				matched[glob] = true
				enable = true
				if !c.state().IsPolled() {
					log.Warn("forcing collector %s to polled mode", c.Name())
					c.Polled(true)
				}
			}
		}
		c.Enable(enable)
		log.Debug("collector %s: %s", c.Name(), c.state())
		state |= c.state()
	}

	return state
}

// Registry is a set of collector groups.
type Registry struct {
	sync.Mutex
	groups map[string]*Group
}

// RegisterOptions are the options for registering a collector.
type RegisterOptions struct {
	group string
	copts []CollectorOption
}

// RegisterOption is an option for registering a collector.
type RegisterOption func(*RegisterOptions)

// WithGroup registers a collector in the given group.
func WithGroup(name string) RegisterOption {
	return func(o *RegisterOptions) {
		if name == "" {
			name = DefaultGroup
		}
		o.group = name
	}
}

// WithCollectorOptions registers a collector with the given options.
func WithCollectorOptions(opts ...CollectorOption) RegisterOption {
	return func(o *RegisterOptions) {
		o.copts = append(o.copts, opts...)
	}
}

// NewRegistry creates a new, empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string]*Group),
	}
}

// Register registers a collector under the given name.
func (r *Registry) Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	o := &RegisterOptions{group: DefaultGroup}
	for _, opt := range opts {
		opt(o)
	}

	c := NewCollector(name, collector, o.copts...)

	r.Lock()
	defer r.Unlock()

	g, ok := r.groups[o.group]
	if !ok {
		g = &Group{name: o.group}
		r.groups[o.group] = g
	}

	for _, other := range g.collectors {
		if other.name == name {
			return fmt.Errorf("collector %s/%s already registered", o.group, name)
		}
	}

	c.group = g.name
	g.collectors = append(g.collectors, c)
	log.Info("registered collector %s", c.Name())

	return nil
}

// Configure enables the collectors matching any of the given globs and
// forces the ones matching polled to polled mode. It fails if any glob
// matches no collector.
func (r *Registry) Configure(enabled, polled []string) (State, error) {
	r.Lock()
	defer r.Unlock()

	log.Info("configuring collectors, enabled: [%s], polled: [%s]",
		strings.Join(enabled, ","), strings.Join(polled, ","))

	var (
		state   State
		matched = map[string]bool{}
	)

	for _, g := range r.groups {
		state |= g.configure(enabled, polled, matched)
	}

	var unmatched []string
	for _, glob := range append(append([]string{}, enabled...), polled...) {
		if !matched[glob] {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return state, fmt.Errorf("no collectors match %s", strings.Join(unmatched, ", "))
	}

	return state, nil
}

// State returns the combined state of all collectors.
func (r *Registry) State() State {
	r.Lock()
	defer r.Unlock()

	var state State
	for _, g := range r.groups {
		state |= g.state()
	}
	return state
}

// Poll polls all enabled polled collectors.
func (r *Registry) Poll() {
	r.Lock()
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.Unlock()

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g *Group) {
			defer wg.Done()
			g.poll()
		}(g)
	}
	wg.Wait()
}

func (r *Registry) register(plain, namespaced prometheus.Registerer) error {
	r.Lock()
	defer r.Unlock()

	for _, g := range r.groups {
		if err := g.register(plain, namespaced); err != nil {
			return err
		}
	}
	return nil
}

func prefixedRegisterer(prefix string, reg prometheus.Registerer) prometheus.Registerer {
	if prefix == "" {
		return reg
	}
	return prometheus.WrapRegistererWithPrefix(prefix+"_", reg)
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the default Registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register registers a collector with the default Registry.
func Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	return Default().Register(name, collector, opts...)
}

// MustRegister registers a collector with the default Registry, panicking on errors.
func MustRegister(name string, collector prometheus.Collector, opts ...RegisterOption) {
	if err := Register(name, collector, opts...); err != nil {
		panic(err)
	}
}
