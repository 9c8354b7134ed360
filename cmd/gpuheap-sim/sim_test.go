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

package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	libheap "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
	"github.com/gpuheap/gpuheap/pkg/hostmem"
)

func TestSimulatorRun(t *testing.T) {
	p, err := hostmem.NewProvider(hostmem.WithLimit(512 << 20))
	require.NoError(t, err)

	staging, err := libheap.NewCache(p,
		libheap.WithName("staging"),
		libheap.WithBlockSize(1<<20),
		libheap.WithBlockCount(2),
		libheap.WithFrameCount(3),
	)
	require.NoError(t, err)

	buffers, err := libheap.NewCache(p,
		libheap.WithName("buffers"),
		libheap.WithBlockSize(1<<20),
		libheap.WithDedicatedThreshold(512<<10),
	)
	require.NoError(t, err)

	caches := []*libheap.Cache{staging, buffers}
	sim := newSimulator(caches, &options{
		duration: 200 * time.Millisecond,
		workers:  3,
		rate:     0,
		maxSize:  1 << 20,
		frames:   100,
		window:   32,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, sim.Run(ctx))
	require.NotZero(t, sim.acquired.Load())
	require.Equal(t, sim.acquired.Load(), sim.released.Load())

	out := &bytes.Buffer{}
	sim.Report(out)
	require.Contains(t, out.String(), "cache staging:")
	require.Contains(t, out.String(), "cache buffers:")

	for _, c := range caches {
		require.Zero(t, c.Stats().Dedicated)
	}
	require.Zero(t, buffers.Stats().Heaps)

	require.NoError(t, teardown(p, caches))
	require.Zero(t, p.InUse())
}

func TestRandomSize(t *testing.T) {
	sim := newSimulator(nil, &options{maxSize: 1000})
	rng := newTestRand()
	for i := 0; i < 10000; i++ {
		size := sim.randomSize(rng)
		require.GreaterOrEqual(t, size, uint64(1))
		require.LessOrEqual(t, size, uint64(1000))
	}
}

func newTestRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}
