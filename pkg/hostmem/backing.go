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

package hostmem

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Backing is a backing allocation created by a Provider.
type Backing struct {
	id   uint64
	size uint64
	mem  []byte
}

// MappedBacking is a Backing with a host mapping.
type MappedBacking struct {
	*Backing
}

// ID implements libheap.Backing.
func (b *Backing) ID() uint64 {
	return b.id
}

// Size implements libheap.Backing.
func (b *Backing) Size() uint64 {
	return b.size
}

func (b *Backing) String() string {
	return fmt.Sprintf("backing #%d (%s)", b.id, prettySize(b.size))
}

// Mapping implements libheap.MappedBacking.
func (b *MappedBacking) Mapping() []byte {
	return b.mem
}

func prettySize(size uint64) string {
	return humanize.IBytes(size)
}
