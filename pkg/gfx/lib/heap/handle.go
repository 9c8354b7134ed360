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
	"runtime"
	"sync/atomic"
)

// Origin tells how the memory behind a Handle was obtained.
type Origin int

const (
	// OriginCached marks a region sub-allocated from a shared heap.
	OriginCached Origin = iota
	// OriginUnmanaged marks a dedicated backing allocation of its own.
	OriginUnmanaged
)

func (o Origin) String() string {
	switch o {
	case OriginCached:
		return "cached"
	case OriginUnmanaged:
		return "unmanaged"
	}
	return fmt.Sprintf("<origin %d>", int(o))
}

// noCopy may be embedded into structs which must not be copied after
// first use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle represents an allocation acquired from a Cache. A Handle must
// be released exactly once, calling Release. Further releases are
// ignored. A Handle which becomes unreachable without being released is
// released by a finalizer.
type Handle struct {
	_        noCopy
	cache    *Cache
	origin   Origin
	heapID   HeapID
	region   FreeRegion
	backing  Backing
	size     uint64
	released atomic.Bool
}

func newHandle(c *Cache, origin Origin, id HeapID, region FreeRegion, b Backing, size uint64) *Handle {
	h := &Handle{
		cache:   c,
		origin:  origin,
		heapID:  id,
		region:  region,
		backing: b,
		size:    size,
	}
	runtime.SetFinalizer(h, (*Handle).finalize)
	return h
}

// Release returns the allocation to the cache it was acquired from. It
// is safe to call Release more than once, or concurrently, only the
// first call has any effect.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(h, nil)
	h.cache.release(h)
}

// Released returns true if the handle has been released.
func (h *Handle) Released() bool {
	return h.released.Load()
}

func (h *Handle) finalize() {
	if h.released.CompareAndSwap(false, true) {
		log.Warn("cache %s: releasing leaked %s", h.cache.name, h)
		h.cache.release(h)
	}
}

// Origin returns how the memory behind the handle was obtained.
func (h *Handle) Origin() Origin {
	return h.origin
}

// Dedicated returns true if the handle owns a dedicated backing allocation.
func (h *Handle) Dedicated() bool {
	return h.origin == OriginUnmanaged
}

// Backing returns the backing allocation the handle lives in.
func (h *Handle) Backing() Backing {
	return h.backing
}

// Size returns the requested size of the allocation.
func (h *Handle) Size() uint64 {
	return h.size
}

// AllocationSize returns the size of the allocated region, including
// alignment padding.
func (h *Handle) AllocationSize() uint64 {
	return h.region.AllocationSize
}

// Offset returns the aligned offset of the allocation within its backing,
// the same as OffsetToAlign.
func (h *Handle) Offset() uint64 {
	return h.region.OffsetToAlign
}

// OffsetToAlign returns the aligned offset within the backing where the
// data of the allocation starts. It is always 0 for dedicated allocations.
func (h *Handle) OffsetToAlign() uint64 {
	return h.region.OffsetToAlign
}

// Padding returns the number of bytes skipped at the start of the region
// to reach the aligned offset.
func (h *Handle) Padding() uint64 {
	return h.region.Padding()
}

// Bytes returns the host mapping of the allocation, Size() bytes starting
// at Offset(). It fails with ErrNotMapped if the backing allocation is not
// host-visible.
func (h *Handle) Bytes() ([]byte, error) {
	if h.released.Load() {
		return nil, fmt.Errorf("%w: %s", ErrReleased, h)
	}

	m := mappingOf(h.backing)
	if m == nil {
		return nil, fmt.Errorf("%w: backing #%d", ErrNotMapped, h.backing.ID())
	}

	beg := h.Offset()
	end := beg + h.size
	if end > uint64(len(m)) {
		return nil, fmt.Errorf("%w: %s beyond mapping of %d bytes", ErrInternalError, h, len(m))
	}

	return m[beg:end:end], nil
}

// Write copies data to the start of the allocation. It fails with
// ErrTooLarge if data does not fit into the allocation.
func (h *Handle) Write(data []byte) error {
	if uint64(len(data)) > h.size {
		return fmt.Errorf("%w: %d bytes into %s", ErrTooLarge, len(data), h)
	}

	buf, err := h.Bytes()
	if err != nil {
		return err
	}

	copy(buf, data)
	return nil
}

func (h *Handle) String() string {
	if h == nil {
		return "<nil handle>"
	}
	if h.origin == OriginUnmanaged {
		return fmt.Sprintf("<%s handle %s in backing #%d>", h.origin, prettySize(h.size),
			h.backing.ID())
	}
	return fmt.Sprintf("<%s handle %s at %d in heap #%d>", h.origin, prettySize(h.size),
		h.Offset(), h.heapID)
}
