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

// Package hostmem provides backing allocations for libheap caches from
// anonymous host memory mappings. It stands in for device memory when no
// device is around, for instance in tests and simulations.
package hostmem

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"

	libheap "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
	logger "github.com/gpuheap/gpuheap/pkg/log"
)

var (
	log = logger.Get("hostmem")

	// ErrOutOfMemory is returned when a backing allocation would exceed the limit.
	ErrOutOfMemory = fmt.Errorf("hostmem: out of memory")
	// ErrUnknownBacking is returned for backings not created by the Provider.
	ErrUnknownBacking = fmt.Errorf("hostmem: unknown backing")
	// ErrFailedOption is returned when an option cannot be applied.
	ErrFailedOption = fmt.Errorf("hostmem: failed to apply option")
)

// Provider creates page-rounded backing allocations from host memory.
type Provider struct {
	sync.Mutex
	pageSize uint64
	limit    uint64
	mapped   bool
	nextID   uint64
	inUse    uint64
	backings map[uint64]*Backing
}

// Option is an opaque option for a Provider.
type Option func(*Provider) error

// WithLimit limits the total size of live backing allocations. A zero
// limit, the default, means no limit.
func WithLimit(limit uint64) Option {
	return func(p *Provider) error {
		p.limit = limit
		return nil
	}
}

// WithoutMapping makes the Provider hand out backings without a host
// mapping, like device-local memory.
func WithoutMapping() Option {
	return func(p *Provider) error {
		p.mapped = false
		return nil
	}
}

// WithPageSize overrides the size backing allocations are rounded up to.
func WithPageSize(size uint64) Option {
	return func(p *Provider) error {
		if size == 0 || size&(size-1) != 0 {
			return fmt.Errorf("invalid page size %d", size)
		}
		p.pageSize = size
		return nil
	}
}

var _ libheap.Provider = &Provider{}

// NewProvider creates a new Provider with the given options.
func NewProvider(options ...Option) (*Provider, error) {
	p := &Provider{
		pageSize: uint64(os.Getpagesize()),
		mapped:   true,
		nextID:   1,
		backings: make(map[uint64]*Backing),
	}

	for _, o := range options {
		if err := o(p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedOption, err)
		}
	}

	return p, nil
}

// CreateBacking implements libheap.Provider.
func (p *Provider) CreateBacking(minSize uint64) (libheap.Backing, error) {
	if minSize == 0 {
		return nil, fmt.Errorf("hostmem: invalid backing size 0")
	}

	size := (minSize + p.pageSize - 1) &^ (p.pageSize - 1)

	p.Lock()
	defer p.Unlock()

	if p.limit > 0 && p.inUse+size > p.limit {
		return nil, fmt.Errorf("%w: %s requested, %s of %s in use", ErrOutOfMemory,
			prettySize(size), prettySize(p.inUse), prettySize(p.limit))
	}

	b := &Backing{
		id:   p.nextID,
		size: size,
	}

	if p.mapped {
		mem, err := mapAnon(size)
		if err != nil {
			return nil, fmt.Errorf("hostmem: failed to map %s: %w", prettySize(size), err)
		}
		b.mem = mem
	}

	p.nextID++
	p.inUse += size
	p.backings[b.id] = b

	log.Debug("created backing #%d of %s", b.id, prettySize(size))

	if b.mem != nil {
		return &MappedBacking{Backing: b}, nil
	}
	return b, nil
}

// DestroyBacking implements libheap.Provider.
func (p *Provider) DestroyBacking(lb libheap.Backing) error {
	p.Lock()
	defer p.Unlock()

	b, ok := p.backings[lb.ID()]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrUnknownBacking, lb.ID())
	}

	return p.destroy(b)
}

// Close destroys all live backing allocations.
func (p *Provider) Close() error {
	p.Lock()
	defer p.Unlock()

	var errs *multierror.Error
	for _, b := range p.backings {
		log.Warn("destroying leaked backing #%d of %s", b.id, prettySize(b.size))
		if err := p.destroy(b); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

// InUse returns the total size of live backing allocations.
func (p *Provider) InUse() uint64 {
	p.Lock()
	defer p.Unlock()
	return p.inUse
}

// Count returns the number of live backing allocations.
func (p *Provider) Count() int {
	p.Lock()
	defer p.Unlock()
	return len(p.backings)
}

// Limit returns the limit for live backing allocations, 0 if unlimited.
func (p *Provider) Limit() uint64 {
	return p.limit
}

func (p *Provider) destroy(b *Backing) error {
	delete(p.backings, b.id)
	p.inUse -= b.size

	log.Debug("destroying backing #%d of %s", b.id, prettySize(b.size))

	if b.mem == nil {
		return nil
	}

	mem := b.mem
	b.mem = nil
	if err := unmap(mem); err != nil {
		return fmt.Errorf("hostmem: failed to unmap backing #%d: %w", b.id, err)
	}

	return nil
}
