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

package libheap_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	. "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
)

var ignoreNode = cmpopts.IgnoreUnexported(FreeRegion{})

func requireFreeRegions(t *testing.T, h *SubHeap, expected ...FreeRegion) {
	t.Helper()
	if diff := cmp.Diff(expected, h.FreeRegions(), ignoreNode); diff != "" {
		t.Fatalf("unexpected free regions (-expected +got):\n%s", diff)
	}
}

func TestSubHeapAllocateAndFree(t *testing.T) {
	type testCase struct {
		name      string
		freeFirst int
	}

	for _, tc := range []*testCase{
		{name: "free in allocation order", freeFirst: 0},
		{name: "free in reverse order", freeFirst: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSubHeap(1024)
			require.False(t, h.IsUsed())
			requireFreeRegions(t, h, FreeRegion{AllocationSize: 1024})

			a, ok := h.Allocate(100, 16)
			require.True(t, ok)
			require.Equal(t, uint64(100), a.AllocationSize)
			require.Equal(t, uint64(0), a.OffsetInHeap)
			require.Equal(t, uint64(0), a.OffsetToAlign)
			requireFreeRegions(t, h, FreeRegion{AllocationSize: 924, OffsetInHeap: 100, OffsetToAlign: 100})

			// offset 100 needs 12 bytes of padding for 16-byte alignment
			b, ok := h.Allocate(50, 16)
			require.True(t, ok)
			require.Equal(t, uint64(100), b.OffsetInHeap)
			require.Equal(t, uint64(112), b.OffsetToAlign)
			require.Equal(t, uint64(62), b.AllocationSize)
			require.Equal(t, uint64(12), b.Padding())
			requireFreeRegions(t, h, FreeRegion{AllocationSize: 862, OffsetInHeap: 162, OffsetToAlign: 162})

			require.True(t, h.IsUsed())
			require.Equal(t, 2, h.Allocations())
			require.Equal(t, uint64(162), h.Used())
			require.NoError(t, h.Validate())

			regions := []FreeRegion{a, b}
			h.Free(regions[tc.freeFirst])
			require.NoError(t, h.Validate())
			require.True(t, h.IsUsed())
			h.Free(regions[1-tc.freeFirst])
			require.NoError(t, h.Validate())

			require.False(t, h.IsUsed())
			require.Equal(t, 0, h.Allocations())
			requireFreeRegions(t, h, FreeRegion{AllocationSize: 1024})
		})
	}
}

func TestSubHeapAllocateUnaligned(t *testing.T) {
	h := NewSubHeap(1024)

	a, ok := h.Allocate(100, 1)
	require.True(t, ok)
	b, ok := h.Allocate(50, 0)
	require.True(t, ok)

	require.Equal(t, uint64(100), b.OffsetInHeap)
	require.Equal(t, uint64(100), b.OffsetToAlign)
	requireFreeRegions(t, h, FreeRegion{AllocationSize: 874, OffsetInHeap: 150, OffsetToAlign: 150})

	h.Free(b)
	h.Free(a)
	require.False(t, h.IsUsed())
	requireFreeRegions(t, h, FreeRegion{AllocationSize: 1024})
}

func TestSubHeapExactFit(t *testing.T) {
	h := NewSubHeap(256)

	a, ok := h.Allocate(256, 1)
	require.True(t, ok)
	require.Equal(t, uint64(256), a.AllocationSize)
	require.Empty(t, h.FreeRegions())
	require.Equal(t, uint64(0), h.Available())
	require.NoError(t, h.Validate())

	_, ok = h.Allocate(1, 1)
	require.False(t, ok, "allocation from a full heap")

	h.Free(a)
	require.False(t, h.IsUsed())
	requireFreeRegions(t, h, FreeRegion{AllocationSize: 256})
	require.NoError(t, h.Validate())
}

func TestSubHeapFailureLeavesHeapUntouched(t *testing.T) {
	type testCase struct {
		name      string
		size      uint64
		alignment uint64
	}

	for _, tc := range []*testCase{
		{name: "zero size", size: 0, alignment: 1},
		{name: "too large", size: 1025, alignment: 1},
		{name: "too large with padding", size: 1000, alignment: 64},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSubHeap(1024)
			_, ok := h.Allocate(4, 1)
			require.True(t, ok)

			before := h.FreeRegions()
			_, ok = h.Allocate(tc.size, tc.alignment)
			require.False(t, ok)

			if diff := cmp.Diff(before, h.FreeRegions(), ignoreNode); diff != "" {
				t.Fatalf("failed allocation changed free regions:\n%s", diff)
			}
			require.Equal(t, 1, h.Allocations())
			require.NoError(t, h.Validate())
		})
	}
}

func TestSubHeapSmallestClassOnly(t *testing.T) {
	h := NewSubHeap(576)

	a, ok := h.Allocate(64, 1)
	require.True(t, ok)
	_, ok = h.Allocate(64, 1)
	require.True(t, ok)
	_, ok = h.Allocate(192, 1)
	require.True(t, ok)

	h.Free(a)
	requireFreeRegions(t, h,
		FreeRegion{AllocationSize: 64, OffsetInHeap: 0, OffsetToAlign: 0},
		FreeRegion{AllocationSize: 256, OffsetInHeap: 320, OffsetToAlign: 320},
	)

	_, ok = h.Allocate(100, 1)
	require.False(t, ok, "only the smallest size class is considered")
	require.NoError(t, h.Validate())

	c, ok := h.Allocate(64, 1)
	require.True(t, ok)
	require.Equal(t, uint64(0), c.OffsetInHeap)

	_, ok = h.Allocate(100, 1)
	require.True(t, ok, "256 is the smallest class once 64 is gone")
}

func TestSubHeapFIFOWithinSizeClass(t *testing.T) {
	h := NewSubHeap(512)

	regions := make([]FreeRegion, 0, 8)
	for i := 0; i < 8; i++ {
		r, ok := h.Allocate(64, 1)
		require.True(t, ok)
		regions = append(regions, r)
	}

	// Freeing every other region leaves isolated 64-byte holes, since
	// each hole's sibling is still in use.
	h.Free(regions[4])
	h.Free(regions[2])
	h.Free(regions[0])
	require.NoError(t, h.Validate())

	r, ok := h.Allocate(32, 1)
	require.True(t, ok)
	require.Equal(t, uint64(256), r.OffsetInHeap, "oldest region of the class is used first")
}

func TestSubHeapCoalescesUpward(t *testing.T) {
	h := NewSubHeap(4096)

	var regions []FreeRegion
	for _, size := range []uint64{128, 256, 512, 1024} {
		r, ok := h.Allocate(size, 1)
		require.True(t, ok)
		regions = append(regions, r)
	}

	// Freeing the oldest allocation merges nothing since its sibling,
	// the rest of the heap, is split.
	h.Free(regions[0])
	require.Len(t, h.FreeRegions(), 2)

	// Freeing the newest allocation merges it with the tail remainder and
	// keeps merging upward while the siblings on the way are free.
	h.Free(regions[3])
	require.NoError(t, h.Validate())
	h.Free(regions[2])
	require.NoError(t, h.Validate())
	h.Free(regions[1])
	require.NoError(t, h.Validate())

	require.False(t, h.IsUsed())
	requireFreeRegions(t, h, FreeRegion{AllocationSize: 4096})
}

func TestSubHeapRandomized(t *testing.T) {
	const (
		heapSize = 1 << 20
		rounds   = 4000
	)

	rnd := rand.New(rand.NewSource(20240601))
	h := NewSubHeap(heapSize)
	live := []FreeRegion{}

	liveSize := func() uint64 {
		total := uint64(0)
		for _, r := range live {
			total += r.AllocationSize
		}
		return total
	}

	for i := 0; i < rounds; i++ {
		if len(live) > 0 && rnd.Intn(100) < 45 {
			idx := rnd.Intn(len(live))
			h.Free(live[idx])
			live = append(live[:idx], live[idx+1:]...)
		} else {
			size := uint64(1 + rnd.Intn(8192))
			alignment := uint64(1) << rnd.Intn(9)
			r, ok := h.Allocate(size, alignment)
			if ok {
				require.Zero(t, r.OffsetToAlign%alignment, "aligned offset")
				require.GreaterOrEqual(t, r.AllocationSize, size+r.Padding())
				require.LessOrEqual(t, r.End(), uint64(heapSize))
				live = append(live, r)
			}
		}

		require.Equal(t, uint64(heapSize), h.Available()+liveSize(), "conservation")
		require.Equal(t, len(live), h.Allocations())
		require.NoError(t, h.Validate())
	}

	for i, a := range live {
		for _, b := range live[i+1:] {
			require.True(t, a.End() <= b.OffsetInHeap || b.End() <= a.OffsetInHeap,
				"overlapping allocations %s and %s", a, b)
		}
	}

	rnd.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	for _, r := range live {
		h.Free(r)
		require.NoError(t, h.Validate())
	}

	require.False(t, h.IsUsed())
	requireFreeRegions(t, h, FreeRegion{AllocationSize: heapSize})
}

func TestSubHeapIgnoresBogusFree(t *testing.T) {
	h := NewSubHeap(1024)

	a, ok := h.Allocate(100, 1)
	require.True(t, ok)

	h.Free(a)
	require.False(t, h.IsUsed())

	// a second free of the same region is logged and ignored
	h.Free(a)
	require.False(t, h.IsUsed())
	requireFreeRegions(t, h, FreeRegion{AllocationSize: 1024})
	require.NoError(t, h.Validate())
}
