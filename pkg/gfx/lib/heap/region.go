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
)

// FreeRegion describes a region of a SubHeap, either one available for
// allocation or one which has just been granted by Allocate.
type FreeRegion struct {
	// AllocationSize is the size of the region, including any padding
	// consumed for alignment.
	AllocationSize uint64
	// OffsetInHeap is the offset of the region within the heap.
	OffsetInHeap uint64
	// OffsetToAlign is the aligned offset within the heap where data
	// for the region should be placed.
	OffsetToAlign uint64

	node nodeID
}

// End returns the offset of the first byte past the region.
func (r FreeRegion) End() uint64 {
	return r.OffsetInHeap + r.AllocationSize
}

// Padding returns the number of bytes consumed for alignment.
func (r FreeRegion) Padding() uint64 {
	return r.OffsetToAlign - r.OffsetInHeap
}

func (r FreeRegion) String() string {
	if pad := r.Padding(); pad != 0 {
		return fmt.Sprintf("region %s@%d (aligned @%d, %d bytes padding)",
			prettySize(r.AllocationSize), r.OffsetInHeap, r.OffsetToAlign, pad)
	}
	return fmt.Sprintf("region %s@%d", prettySize(r.AllocationSize), r.OffsetInHeap)
}

// freeRegistry tracks free regions in FIFO queues keyed by exact size.
type freeRegistry struct {
	sizes  []uint64 // sorted sizes with a non-empty queue
	queues map[uint64][]FreeRegion
	total  uint64
	count  int
}

func newFreeRegistry() *freeRegistry {
	return &freeRegistry{
		queues: make(map[uint64][]FreeRegion),
	}
}

func (r *freeRegistry) isEmpty() bool {
	return r.count == 0
}

// push appends the given region to the queue of its size.
func (r *freeRegistry) push(region FreeRegion) {
	size := region.AllocationSize
	q, ok := r.queues[size]
	if !ok {
		idx, _ := slices.BinarySearch(r.sizes, size)
		r.sizes = slices.Insert(r.sizes, idx, size)
	}
	r.queues[size] = append(q, region)
	r.total += size
	r.count++
}

// first returns the oldest region of the smallest size class.
func (r *freeRegistry) first() (FreeRegion, bool) {
	if len(r.sizes) == 0 {
		return FreeRegion{}, false
	}
	return r.queues[r.sizes[0]][0], true
}

// popFirst removes the oldest region of the smallest size class.
func (r *freeRegistry) popFirst() {
	if len(r.sizes) == 0 {
		return
	}
	r.removeAt(r.sizes[0], 0)
}

// remove removes the region of the given node from the queue of the given size.
func (r *freeRegistry) remove(size uint64, node nodeID) bool {
	idx := slices.IndexFunc(r.queues[size], func(region FreeRegion) bool {
		return region.node == node
	})
	if idx < 0 {
		return false
	}

	r.removeAt(size, idx)
	return true
}

func (r *freeRegistry) removeAt(size uint64, idx int) {
	q := r.queues[size]
	q = slices.Delete(q, idx, idx+1)
	if len(q) == 0 {
		delete(r.queues, size)
		if pos, found := slices.BinarySearch(r.sizes, size); found {
			r.sizes = slices.Delete(r.sizes, pos, pos+1)
		}
	} else {
		r.queues[size] = q
	}
	r.total -= size
	r.count--
}

// countOf returns how many times the region of the given node is queued.
func (r *freeRegistry) countOf(size uint64, node nodeID) int {
	cnt := 0
	for _, region := range r.queues[size] {
		if region.node == node {
			cnt++
		}
	}
	return cnt
}

// regions returns all regions, by ascending size and in FIFO order within a size.
func (r *freeRegistry) regions() []FreeRegion {
	regions := make([]FreeRegion, 0, r.count)
	for _, size := range r.sizes {
		regions = append(regions, r.queues[size]...)
	}
	return regions
}
