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

// counters are the cumulative event counts of a Cache.
type counters struct {
	warm      uint64
	cold      uint64
	dedicated uint64
	failures  uint64
	created   uint64
	destroyed uint64
	evictions uint64
}

// Stats is a snapshot of the state of a Cache.
type Stats struct {
	// Name of the cache.
	Name string
	// Heaps is the number of live heaps.
	Heaps int
	// HeapBytes is the total size of live heaps.
	HeapBytes uint64
	// UsedBytes is the number of bytes allocated from heaps, padding included.
	UsedBytes uint64
	// FreeBytes is the number of bytes available in heaps.
	FreeBytes uint64
	// FreeRegions is the number of free regions in heaps.
	FreeRegions int
	// Allocations is the number of live regions, pending releases included.
	Allocations int
	// PendingReleases is the number of regions held back by frame-delayed release.
	PendingReleases int
	// Dedicated is the number of live dedicated backing allocations.
	Dedicated int
	// DedicatedBytes is the total size of live dedicated backing allocations.
	DedicatedBytes uint64

	// WarmAllocations counts allocations served from existing heaps.
	WarmAllocations uint64
	// ColdAllocations counts allocations which needed a new heap.
	ColdAllocations uint64
	// DedicatedAllocations counts allocations with a dedicated backing.
	DedicatedAllocations uint64
	// Failures counts failed allocations.
	Failures uint64
	// BackingsCreated counts backing allocations created.
	BackingsCreated uint64
	// BackingsDestroyed counts backing allocations destroyed.
	BackingsDestroyed uint64
	// Evictions counts heaps evicted after becoming entirely free.
	Evictions uint64
}

// Stats returns a snapshot of the state of the cache.
func (c *Cache) Stats() Stats {
	c.Lock()
	defer c.Unlock()

	s := Stats{
		Name:                 c.name,
		Heaps:                len(c.order),
		Allocations:          c.live,
		Dedicated:            c.direct,
		DedicatedBytes:       c.directSize,
		WarmAllocations:      c.counters.warm,
		ColdAllocations:      c.counters.cold,
		DedicatedAllocations: c.counters.dedicated,
		Failures:             c.counters.failures,
		BackingsCreated:      c.counters.created,
		BackingsDestroyed:    c.counters.destroyed,
		Evictions:            c.counters.evictions,
	}

	for _, id := range c.order {
		h := c.heaps[id].heap
		s.HeapBytes += h.Size()
		s.UsedBytes += h.Used()
		s.FreeBytes += h.Available()
		s.FreeRegions += h.registry.count
	}

	if c.frames != nil {
		s.PendingReleases = c.frames.pending()
	}

	return s
}
