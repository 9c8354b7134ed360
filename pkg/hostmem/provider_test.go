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

package hostmem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	libheap "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
	"github.com/gpuheap/gpuheap/pkg/hostmem"
)

func TestCreateAndDestroyBacking(t *testing.T) {
	p, err := hostmem.NewProvider(hostmem.WithPageSize(4096))
	require.NoError(t, err)

	b, err := p.CreateBacking(5000)
	require.NoError(t, err)
	require.Equal(t, uint64(8192), b.Size(), "size rounded up to pages")
	require.Equal(t, uint64(8192), p.InUse())
	require.Equal(t, 1, p.Count())

	m, ok := b.(libheap.MappedBacking)
	require.True(t, ok, "backing is mapped")
	mem := m.Mapping()
	require.Len(t, mem, 8192)
	mem[0], mem[8191] = 0xaa, 0x55

	require.NoError(t, p.DestroyBacking(b))
	require.Equal(t, uint64(0), p.InUse())
	require.Equal(t, 0, p.Count())

	require.ErrorIs(t, p.DestroyBacking(b), hostmem.ErrUnknownBacking)
}

func TestWithoutMapping(t *testing.T) {
	p, err := hostmem.NewProvider(hostmem.WithoutMapping())
	require.NoError(t, err)

	b, err := p.CreateBacking(1)
	require.NoError(t, err)
	_, ok := b.(libheap.MappedBacking)
	require.False(t, ok, "backing is not mapped")

	require.NoError(t, p.DestroyBacking(b))
}

func TestWithLimit(t *testing.T) {
	p, err := hostmem.NewProvider(hostmem.WithPageSize(4096), hostmem.WithLimit(3*4096))
	require.NoError(t, err)

	b1, err := p.CreateBacking(2 * 4096)
	require.NoError(t, err)

	_, err = p.CreateBacking(2 * 4096)
	require.ErrorIs(t, err, hostmem.ErrOutOfMemory)

	b2, err := p.CreateBacking(4096)
	require.NoError(t, err)

	require.NoError(t, p.DestroyBacking(b1))
	b3, err := p.CreateBacking(2 * 4096)
	require.NoError(t, err)

	require.NoError(t, p.DestroyBacking(b2))
	require.NoError(t, p.DestroyBacking(b3))
}

func TestInvalidOptions(t *testing.T) {
	_, err := hostmem.NewProvider(hostmem.WithPageSize(3000))
	require.ErrorIs(t, err, hostmem.ErrFailedOption)

	p, err := hostmem.NewProvider()
	require.NoError(t, err)
	_, err = p.CreateBacking(0)
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	p, err := hostmem.NewProvider()
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := p.CreateBacking(1024)
		require.NoError(t, err)
	}
	require.Equal(t, 4, p.Count())

	require.NoError(t, p.Close())
	require.Equal(t, 0, p.Count())
	require.Equal(t, uint64(0), p.InUse())
}

func TestCacheOverHostMemory(t *testing.T) {
	p, err := hostmem.NewProvider(hostmem.WithLimit(1 << 20))
	require.NoError(t, err)

	c, err := libheap.NewCache(p, libheap.WithName("staging"), libheap.WithBlockSize(64<<10),
		libheap.WithDedicatedThreshold(256<<10))
	require.NoError(t, err)

	data := []byte("uniform buffer contents")
	h, err := c.AcquireWithData(data, 256)
	require.NoError(t, err)

	buf, err := h.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, buf)

	_, err = c.Acquire(2<<20, 1)
	require.ErrorIs(t, err, hostmem.ErrOutOfMemory)

	h.Release()
	require.Equal(t, 0, p.Count())

	require.NoError(t, c.Close())
	require.NoError(t, p.Close())
}
