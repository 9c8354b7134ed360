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

package libheap

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Cache sub-allocates regions from a set of heaps over backing
// allocations obtained from a Provider. All methods are safe for
// concurrent use.
type Cache struct {
	sync.Mutex
	name       string
	provider   Provider
	blockSize  uint64
	blockCount int
	dedicated  uint64
	heaps      map[HeapID]*BackedHeap
	order      []HeapID
	nextID     HeapID
	frames     *frameQueue
	closed     bool
	live       int
	direct     int
	directSize uint64
	counters   counters
}

// CacheOption is an opaque option for a Cache.
type CacheOption func(*Cache) error

const (
	// DefaultName is the name of a Cache created without WithName.
	DefaultName = "default"
	// DefaultBlockCount is the default number of blocks per backing allocation.
	DefaultBlockCount = 1
)

// WithName sets the name of the Cache, used in logs, dumps and metrics.
func WithName(name string) CacheOption {
	return func(c *Cache) error {
		if name == "" {
			return fmt.Errorf("empty cache name")
		}
		c.name = name
		return nil
	}
}

// WithBlockSize sets the block size of the Cache. New backing allocations
// are at least block size times block count bytes. With a zero block size,
// the default, backing allocations are sized for the request triggering
// their creation.
func WithBlockSize(size uint64) CacheOption {
	return func(c *Cache) error {
		c.blockSize = size
		return nil
	}
}

// WithBlockCount sets the number of blocks per backing allocation.
func WithBlockCount(count int) CacheOption {
	return func(c *Cache) error {
		if count < 1 {
			return fmt.Errorf("invalid block count %d", count)
		}
		c.blockCount = count
		return nil
	}
}

// WithDedicatedThreshold sets the size at and above which requests get a
// dedicated backing allocation instead of a region in a shared heap. A
// zero threshold, the default, disables dedicated allocations.
func WithDedicatedThreshold(size uint64) CacheOption {
	return func(c *Cache) error {
		c.dedicated = size
		return nil
	}
}

// WithFrameCount enables frame-delayed release with the given number of
// frames in flight. Zero, the default, releases regions immediately.
func WithFrameCount(count int) CacheOption {
	return func(c *Cache) error {
		switch {
		case count < 0:
			return fmt.Errorf("invalid frame count %d", count)
		case count == 0:
			c.frames = nil
		default:
			c.frames = newFrameQueue(count)
		}
		return nil
	}
}

// NewCache creates a new Cache using the given Provider for backing
// allocations and configures it with the given options.
func NewCache(provider Provider, options ...CacheOption) (*Cache, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidProvider)
	}

	c := &Cache{
		name:       DefaultName,
		provider:   provider,
		blockCount: DefaultBlockCount,
		heaps:      make(map[HeapID]*BackedHeap),
		nextID:     1,
	}

	for _, o := range options {
		if err := o(c); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedOption, err)
		}
	}

	c.DumpConfig()

	return c, nil
}

// Name returns the name of the cache.
func (c *Cache) Name() string {
	return c.name
}

// Acquire allocates a region of the given size and alignment. The
// alignment must be a power of two, 0 is treated as 1. Failure to
// create a new backing allocation, when one is necessary, is the only
// allocation failure. The error from the Provider is returned as such.
func (c *Cache) Acquire(size, alignment uint64) (*Handle, error) {
	if err := validateRequest(size, alignment); err != nil {
		return nil, err
	}

	c.Lock()
	defer c.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, c.name)
	}

	if c.dedicated > 0 && size >= c.dedicated {
		return c.acquireDedicated(size)
	}

	return c.acquire(size, alignment)
}

// AcquireWithData allocates a region for data and copies data into it
// through the host mapping of the backing allocation.
func (c *Cache) AcquireWithData(data []byte, alignment uint64) (*Handle, error) {
	h, err := c.Acquire(uint64(len(data)), alignment)
	if err != nil {
		return nil, err
	}

	if err := h.Write(data); err != nil {
		h.Release()
		return nil, err
	}

	return h, nil
}

// Close releases all backing allocations of the cache. Any regions
// pending frame-delayed release are released first. Regions released
// after Close are ignored, dedicated allocations are still destroyed
// when their handles are released.
func (c *Cache) Close() error {
	c.Lock()
	defer c.Unlock()

	if c.closed {
		return nil
	}

	log.Info("closing cache %s", c.name)

	if c.frames != nil {
		for idx := range c.frames.frames {
			c.collectFrame(idx)
		}
	}

	var errs *multierror.Error
	for _, id := range slices.Clone(c.order) {
		bh := c.heaps[id]
		if bh.heap.IsUsed() {
			log.Warn("cache %s: destroying %s with live allocations", c.name, bh)
		}
		if err := c.removeHeap(bh); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	c.closed = true
	c.live = 0

	return errs.ErrorOrNil()
}

func (c *Cache) acquire(size, alignment uint64) (*Handle, error) {
	for _, id := range c.order {
		bh := c.heaps[id]
		if region, ok := bh.heap.Allocate(size, alignment); ok {
			c.counters.warm++
			c.validateHeap("Acquire", bh)
			return c.newHandle(bh, region, size), nil
		}
	}

	bh, err := c.createHeap(size)
	if err != nil {
		c.counters.failures++
		return nil, err
	}

	region, ok := bh.heap.Allocate(size, alignment)
	if !ok {
		log.Error("cache %s: allocation of %s failed directly after creating %s",
			c.name, prettySize(size), bh)
		c.counters.failures++
		if err := c.removeHeap(bh); err != nil {
			log.Error("cache %s: %v", c.name, err)
		}
		return nil, fmt.Errorf("%w: fresh heap failed to allocate %d bytes", ErrInternalError, size)
	}

	c.counters.cold++
	c.validateHeap("Acquire", bh)

	return c.newHandle(bh, region, size), nil
}

func (c *Cache) acquireDedicated(size uint64) (*Handle, error) {
	b, err := c.provider.CreateBacking(size)
	if err != nil {
		c.counters.failures++
		return nil, err
	}

	c.counters.created++
	c.counters.dedicated++
	c.direct++
	c.directSize += b.Size()

	log.Debug("cache %s: dedicated backing #%d of %s for %s request", c.name, b.ID(),
		prettySize(b.Size()), prettySize(size))

	return newHandle(c, OriginUnmanaged, 0, FreeRegion{AllocationSize: size}, b, size), nil
}

func (c *Cache) newHandle(bh *BackedHeap, region FreeRegion, size uint64) *Handle {
	c.live++
	log.Debug("cache %s: acquired %s in %s", c.name, region, bh)
	return newHandle(c, OriginCached, bh.id, region, bh.backing, size)
}

func (c *Cache) backingSizeFor(size uint64) uint64 {
	if c.blockSize == 0 {
		return size
	}
	return max(size, c.blockSize*uint64(c.blockCount))
}

func (c *Cache) createHeap(size uint64) (*BackedHeap, error) {
	b, err := c.provider.CreateBacking(c.backingSizeFor(size))
	if err != nil {
		log.Error("cache %s: failed to create backing for %s request: %v", c.name,
			prettySize(size), err)
		return nil, err
	}

	c.counters.created++

	bh := newBackedHeap(c.nextID, b)
	c.nextID++
	c.heaps[bh.id] = bh
	c.order = append(c.order, bh.id)

	log.Debug("cache %s: created %s", c.name, bh)

	return bh, nil
}

func (c *Cache) removeHeap(bh *BackedHeap) error {
	delete(c.heaps, bh.id)
	c.order = slices.DeleteFunc(c.order, func(id HeapID) bool { return id == bh.id })
	return c.destroyBacking(bh.backing)
}

func (c *Cache) destroyBacking(b Backing) error {
	c.counters.destroyed++
	if err := c.provider.DestroyBacking(b); err != nil {
		err = fmt.Errorf("cache %s: failed to destroy backing #%d: %w", c.name, b.ID(), err)
		log.Error("%v", err)
		return err
	}
	return nil
}

// release runs the release of a handle, exactly once per handle.
func (c *Cache) release(h *Handle) {
	c.Lock()
	defer c.Unlock()

	if h.origin == OriginUnmanaged {
		c.direct--
		c.directSize -= h.backing.Size()
		log.Debug("cache %s: destroying dedicated backing #%d", c.name, h.backing.ID())
		c.destroyBacking(h.backing) //nolint:errcheck // logged by destroyBacking
		return
	}

	if c.closed {
		log.Debug("cache %s: ignoring release of %s after close", c.name, h.region)
		return
	}

	if c.frames != nil {
		c.frames.push(h.heapID, h.region)
		return
	}

	c.freeRegion(h.heapID, h.region)
}

// freeRegion returns a region to its heap, evicting the heap once it is
// entirely free.
func (c *Cache) freeRegion(id HeapID, region FreeRegion) {
	bh, ok := c.heaps[id]
	if !ok {
		log.Error("internal error: cache %s: release of %s in unknown heap #%d", c.name, region, id)
		return
	}

	bh.heap.Free(region)
	c.live--
	c.validateHeap("Release", bh)

	log.Debug("cache %s: released %s in %s", c.name, region, bh)

	if !bh.heap.IsUsed() {
		log.Debug("cache %s: evicting idle %s", c.name, bh)
		c.counters.evictions++
		c.removeHeap(bh) //nolint:errcheck // logged by destroyBacking
	}
}

func validateRequest(size, alignment uint64) error {
	if size == 0 {
		return fmt.Errorf("%w: zero size", ErrInvalidSize)
	}
	if !isValidAlignment(alignment) {
		return fmt.Errorf("%w: %d is not a power of two", ErrInvalidAlignment, alignment)
	}
	return nil
}
