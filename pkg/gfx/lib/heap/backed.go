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

// HeapID identifies a BackedHeap within a Cache.
type HeapID uint64

// BackedHeap is a SubHeap together with the backing allocation it manages.
type BackedHeap struct {
	id      HeapID
	heap    *SubHeap
	backing Backing
}

func newBackedHeap(id HeapID, backing Backing) *BackedHeap {
	return &BackedHeap{
		id:      id,
		heap:    NewSubHeap(backing.Size()),
		backing: backing,
	}
}

// ID returns the ID of the heap.
func (b *BackedHeap) ID() HeapID {
	return b.id
}

// Heap returns the SubHeap managing the backing allocation.
func (b *BackedHeap) Heap() *SubHeap {
	return b.heap
}

// Backing returns the backing allocation of the heap.
func (b *BackedHeap) Backing() Backing {
	return b.backing
}

func (b *BackedHeap) String() string {
	return fmt.Sprintf("heap #%d (backing #%d, %s, %s free, %d allocations)", b.id,
		b.backing.ID(), prettySize(b.heap.Size()), prettySize(b.heap.Available()),
		b.heap.Allocations())
}
