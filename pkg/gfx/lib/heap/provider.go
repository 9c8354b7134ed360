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

// Backing is a real backing allocation obtained from a Provider. libheap
// treats it as opaque beyond its identity and size.
type Backing interface {
	// ID returns an identifier unique among the live backings of a Provider.
	ID() uint64
	// Size returns the size of the backing allocation in bytes.
	Size() uint64
}

// MappedBacking is a Backing with a persistent host mapping.
type MappedBacking interface {
	Backing
	// Mapping returns the host mapping of the whole backing allocation.
	Mapping() []byte
}

// Provider creates and destroys backing allocations for a Cache.
type Provider interface {
	// CreateBacking creates a backing allocation of at least minSize bytes.
	CreateBacking(minSize uint64) (Backing, error)
	// DestroyBacking releases a backing allocation created by CreateBacking.
	DestroyBacking(b Backing) error
}

// mappingOf returns the host mapping of b, or nil if it is not mapped.
func mappingOf(b Backing) []byte {
	if m, ok := b.(MappedBacking); ok {
		return m.Mapping()
	}
	return nil
}
