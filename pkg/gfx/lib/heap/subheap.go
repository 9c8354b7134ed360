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
)

// SubHeap is a binary split/merge tree sub-allocator over a single
// backing allocation. SubHeap is not safe for concurrent use.
type SubHeap struct {
	nodes    nodeArena
	registry *freeRegistry
	root     nodeID
	size     uint64
	allocs   int
}

// NewSubHeap creates a SubHeap with a single free region of the given size.
func NewSubHeap(size uint64) *SubHeap {
	h := &SubHeap{
		registry: newFreeRegistry(),
		size:     size,
	}

	h.root = h.nodes.add(size, 0, noNode, false)
	h.registry.push(FreeRegion{
		AllocationSize: size,
		node:           h.root,
	})

	return h
}

// Allocate tries to allocate a region of the given size and alignment.
// Only the oldest region of the smallest size class is considered. If
// that fails to accommodate the request with its alignment padding, the
// allocation fails and the heap is left untouched. The alignment must be
// a power of two, 0 is treated as 1.
func (h *SubHeap) Allocate(size, alignment uint64) (FreeRegion, bool) {
	if size == 0 {
		return FreeRegion{}, false
	}

	candidate, ok := h.registry.first()
	if !ok {
		return FreeRegion{}, false
	}

	pad := alignPadding(candidate.OffsetInHeap, alignment)
	if size > candidate.AllocationSize || candidate.AllocationSize-size < pad {
		return FreeRegion{}, false
	}
	needed := size + pad

	h.registry.popFirst()

	// The candidate becomes subdivided. Its left child is the granted
	// region, its right child, if any, the remaining free space.
	parent := candidate.node
	h.nodes.get(parent).inUse = true

	granted := h.nodes.add(needed, candidate.OffsetInHeap, parent, true)
	h.nodes.get(parent).left = granted

	if needed < candidate.AllocationSize {
		remainder := FreeRegion{
			AllocationSize: candidate.AllocationSize - needed,
			OffsetInHeap:   candidate.OffsetInHeap + needed,
			OffsetToAlign:  candidate.OffsetInHeap + needed,
		}
		remainder.node = h.nodes.add(remainder.AllocationSize, remainder.OffsetInHeap, parent, false)
		h.nodes.get(parent).right = remainder.node
		h.registry.push(remainder)
	}

	h.allocs++

	return FreeRegion{
		AllocationSize: needed,
		OffsetInHeap:   candidate.OffsetInHeap,
		OffsetToAlign:  candidate.OffsetInHeap + pad,
		node:           granted,
	}, true
}

// Free releases a region previously granted by Allocate. The region is
// merged with its sibling, and then with its ancestors' siblings, for as
// long as those are free. Whatever could not be merged further is put
// back into the free registry.
func (h *SubHeap) Free(region FreeRegion) {
	if !h.nodes.valid(region.node) {
		log.Error("internal error: free of unknown %s", region)
		return
	}
	n := h.nodes.get(region.node)
	if !n.inUse || !n.isLeaf() || n.size != region.AllocationSize || n.offset != region.OffsetInHeap {
		log.Error("internal error: free of %s, which is not an allocated region (%s)", region, n)
		return
	}

	h.allocs--
	region.OffsetToAlign = region.OffsetInHeap

	for {
		node := h.nodes.get(region.node)
		node.inUse = false

		if node.parent == noNode {
			h.registry.push(region)
			return
		}

		parentID := node.parent
		parent := h.nodes.get(parentID)
		sibling := parent.left
		if sibling == region.node {
			sibling = parent.right
		}

		if sibling != noNode {
			s := h.nodes.get(sibling)
			if s.inUse {
				h.registry.push(region)
				return
			}
			h.registry.remove(s.size, sibling)
		}

		h.nodes.remove(parent.left)
		h.nodes.remove(parent.right)
		parent.left, parent.right = noNode, noNode

		region = FreeRegion{
			AllocationSize: parent.size,
			OffsetInHeap:   parent.offset,
			OffsetToAlign:  parent.offset,
			node:           parentID,
		}
	}
}

// IsUsed returns true if the heap has any allocated regions. It returns
// false once every allocated region has been freed and the tree has been
// merged back into a single free root.
func (h *SubHeap) IsUsed() bool {
	return h.nodes.get(h.root).inUse
}

// Size returns the total size of the heap.
func (h *SubHeap) Size() uint64 {
	return h.size
}

// Available returns the total size of free regions in the heap.
func (h *SubHeap) Available() uint64 {
	return h.registry.total
}

// Used returns the total size of allocated regions, including alignment padding.
func (h *SubHeap) Used() uint64 {
	return h.size - h.registry.total
}

// Allocations returns the number of allocated regions.
func (h *SubHeap) Allocations() int {
	return h.allocs
}

// FreeRegions returns the free regions of the heap by ascending size,
// in allocation order within regions of the same size.
func (h *SubHeap) FreeRegions() []FreeRegion {
	return h.registry.regions()
}

// Validate checks the consistency of the heap. It verifies that the
// leaves of the tree tile the heap without gaps or overlap, that every
// free leaf is registered exactly once, that no allocated or subdivided
// node is registered, and that free siblings have been coalesced.
func (h *SubHeap) Validate() error {
	var (
		offset  uint64
		free    int
		used    int
		reached int
	)

	var walk func(id nodeID) error
	walk = func(id nodeID) error {
		n := h.nodes.get(id)
		reached++

		if n.isLeaf() {
			if n.offset != offset {
				return fmt.Errorf("%w: leaf %s, expected offset %d", ErrInternalError, n, offset)
			}
			offset = n.end()

			cnt := h.registry.countOf(n.size, id)
			switch {
			case n.inUse && cnt != 0:
				return fmt.Errorf("%w: allocated leaf %s is registered as free", ErrInternalError, n)
			case !n.inUse && cnt != 1:
				return fmt.Errorf("%w: free leaf %s registered %d times", ErrInternalError, n, cnt)
			}

			if n.inUse {
				used++
			} else {
				free++
			}
			return nil
		}

		if !n.inUse {
			return fmt.Errorf("%w: subdivided node %s is not marked in use", ErrInternalError, n)
		}
		if h.registry.countOf(n.size, id) != 0 {
			return fmt.Errorf("%w: subdivided node %s is registered as free", ErrInternalError, n)
		}
		if n.left == noNode {
			return fmt.Errorf("%w: subdivided node %s has no left child", ErrInternalError, n)
		}

		l := h.nodes.get(n.left)
		if l.parent != id || l.offset != n.offset {
			return fmt.Errorf("%w: left child %s of %s misplaced", ErrInternalError, l, n)
		}

		if n.right == noNode {
			if l.size != n.size {
				return fmt.Errorf("%w: single child %s of %s has wrong size", ErrInternalError, l, n)
			}
			return walk(n.left)
		}

		r := h.nodes.get(n.right)
		if r.parent != id || r.offset != l.end() || l.size+r.size != n.size {
			return fmt.Errorf("%w: children %s, %s of %s misplaced", ErrInternalError, l, r, n)
		}
		if !l.inUse && !r.inUse {
			return fmt.Errorf("%w: free siblings %s, %s not coalesced", ErrInternalError, l, r)
		}

		if err := walk(n.left); err != nil {
			return err
		}
		return walk(n.right)
	}

	if err := walk(h.root); err != nil {
		return err
	}

	if offset != h.size {
		return fmt.Errorf("%w: leaves cover %d of %d bytes", ErrInternalError, offset, h.size)
	}
	if free != h.registry.count {
		return fmt.Errorf("%w: %d free leaves, %d registered regions", ErrInternalError,
			free, h.registry.count)
	}
	if used != h.allocs {
		return fmt.Errorf("%w: %d allocated leaves, %d allocations", ErrInternalError,
			used, h.allocs)
	}
	if reached != h.nodes.count() {
		return fmt.Errorf("%w: %d nodes in tree, %d in arena", ErrInternalError, reached, h.nodes.count())
	}

	return nil
}

// alignPadding returns the padding needed to align offset to alignment.
func alignPadding(offset, alignment uint64) uint64 {
	if alignment <= 1 {
		return 0
	}
	pad := offset % alignment
	if pad != 0 {
		pad = alignment - pad
	}
	return pad
}

// isValidAlignment checks if alignment is 0 or a power of two.
func isValidAlignment(alignment uint64) bool {
	return alignment&(alignment-1) == 0
}
