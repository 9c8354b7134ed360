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

// Package libheap implements sub-allocation of GPU memory for a graphics
// backend. Real backing allocations (device memory, optionally with a
// buffer object and a persistent host mapping) are scarce and expensive
// to create and destroy. libheap carves many short-lived regions for
// textures, vertex, index and staging buffers out of a few such backings.
// The primary interface to libheap is the Cache type.
//
// # SubHeap
//
// A SubHeap manages a single backing allocation as a binary tree of
// nodes. The root spans the whole backing. Allocating a region splits a
// free node into a granted left child, sized exactly for the request
// plus any alignment padding, and a free right child for the remainder.
// Freeing a region coalesces it with its free sibling and keeps walking
// up the tree for as long as merging is possible, so a heap whose every
// region has been freed collapses back into a single free root.
//
// Free nodes are kept in a registry of FIFO queues keyed by exact size.
// An allocation only ever looks at the oldest region of the smallest
// size class. If that region is too small the allocation fails, even if
// a larger free region would fit. Callers compensate by trying the next
// heap, and ultimately by creating a new one.
//
// # Cache, Providers
//
// A Cache owns a set of heaps, each paired with its backing allocation
// in a BackedHeap. Backing allocations are obtained from and returned to
// an external Provider. Acquire tries the existing heaps in creation
// order and creates a new one only if none of them can satisfy the
// request. Once every region of a heap has been released the heap is
// evicted and its backing is immediately returned to the Provider.
//
// Requests at or above an optional dedicated threshold bypass the heaps
// altogether and get a backing allocation of their own.
//
// # Handles
//
// Acquire returns a Handle. A Handle gives access to the backing and the
// aligned offset of the region within it. Calling Release returns the
// region to its heap. Release takes effect exactly once, subsequent
// calls are no-ops. A Handle which is garbage collected without being
// released is released by a finalizer, with a warning.
//
// # Frame-Delayed Release
//
// A Cache can be set up to delay the actual release of regions until
// the GPU is known to be done with the frame they were released in.
// Released regions are queued on the current frame, set with
// SetFrameIndex, and returned to their heaps by CollectFrame.
//
// # Concurrency
//
// SubHeap is not safe for concurrent use. Cache serializes all access
// to its heaps with a single lock, so handles can be acquired and
// released from any goroutine.
package libheap
