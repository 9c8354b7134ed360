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
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	libheap "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
	"github.com/gpuheap/gpuheap/pkg/hostmem"
)

var alignments = []uint64{1, 4, 16, 64, 256, 4096}

// simulator drives caches with a randomized acquire/release workload.
type simulator struct {
	caches []*libheap.Cache
	opt    *options

	acquired   atomic.Uint64
	uploaded   atomic.Uint64
	released   atomic.Uint64
	exhausted  atomic.Uint64
	frames     atomic.Uint64
	bytesTotal atomic.Uint64
	elapsed    time.Duration
}

func newSimulator(caches []*libheap.Cache, opt *options) *simulator {
	return &simulator{
		caches: caches,
		opt:    opt,
	}
}

// Run runs the workload until ctx is done or a worker fails.
func (s *simulator) Run(ctx context.Context) error {
	start := time.Now()
	defer func() { s.elapsed = time.Since(start) }()

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < max(s.opt.workers, 1); i++ {
		id := i
		g.Go(func() error {
			return s.worker(ctx, id)
		})
	}

	if s.opt.frames > 0 {
		g.Go(func() error {
			return s.pace(ctx)
		})
	}

	log.Info("running %d workers for %s...", max(s.opt.workers, 1), s.opt.duration)

	return g.Wait()
}

func (s *simulator) limiter() *rate.Limiter {
	if s.opt.rate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.opt.rate), 1)
}

func (s *simulator) worker(ctx context.Context, id int) error {
	var (
		rng     = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(id)))
		limiter = s.limiter()
		live    = make([]*libheap.Handle, 0, s.opt.window)
		buf     []byte
	)

	defer func() {
		for _, h := range live {
			h.Release()
			s.released.Add(1)
		}
	}()

	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if len(live) > 0 && (len(live) >= s.opt.window || rng.IntN(100) < 40) {
			idx := rng.IntN(len(live))
			live[idx].Release()
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			s.released.Add(1)
			continue
		}

		c := s.caches[rng.IntN(len(s.caches))]
		size := s.randomSize(rng)
		align := alignments[rng.IntN(len(alignments))]

		h, err := s.acquire(c, rng, size, align, &buf)
		if err != nil {
			if errors.Is(err, hostmem.ErrOutOfMemory) {
				s.exhausted.Add(1)
				log.Debug("worker #%d: %v", id, err)
				if !s.opt.strict {
					continue
				}
			}
			return errors.Wrapf(err, "worker #%d: failed to acquire %s from cache %s",
				id, humanize.IBytes(size), c.Name())
		}

		live = append(live, h)
		s.acquired.Add(1)
		s.bytesTotal.Add(size)
	}
}

func (s *simulator) acquire(c *libheap.Cache, rng *rand.Rand, size, align uint64, buf *[]byte) (*libheap.Handle, error) {
	if rng.IntN(100) >= 25 {
		return c.Acquire(size, align)
	}

	if uint64(cap(*buf)) < size {
		*buf = make([]byte, size)
	}
	data := (*buf)[:size]
	data[0] = byte(size)

	h, err := c.AcquireWithData(data, align)
	if errors.Is(err, libheap.ErrNotMapped) {
		return c.Acquire(size, align)
	}
	if err == nil {
		s.uploaded.Add(1)
	}

	return h, err
}

// randomSize picks a size with a roughly log-uniform distribution.
func (s *simulator) randomSize(rng *rand.Rand) uint64 {
	limit := max(s.opt.maxSize, 1)
	bits := 0
	for l := limit; l > 1; l >>= 1 {
		bits++
	}
	upper := min(uint64(1)<<rng.IntN(bits+1), limit)
	return 1 + rng.Uint64N(upper)
}

// pace advances the frame index of caches with frame-delayed release.
func (s *simulator) pace(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.opt.frames))
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame++
			s.frames.Add(1)
			for _, c := range s.caches {
				n := c.FrameCount()
				if n == 0 {
					continue
				}
				if err := c.SetFrameIndex(frame % n); err != nil {
					return errors.Wrapf(err, "cache %s", c.Name())
				}
			}
		}
	}
}

// Report writes a summary of the run and the state of each cache.
func (s *simulator) Report(w io.Writer) {
	secs := max(s.elapsed.Seconds(), 1e-9)

	fmt.Fprintf(w, "ran for %s, %d frames\n", s.elapsed.Round(time.Millisecond), s.frames.Load())
	fmt.Fprintf(w, "  acquired:  %s (%s/s, %s total), %s with data\n",
		humanize.Comma(int64(s.acquired.Load())),
		humanize.CommafWithDigits(float64(s.acquired.Load())/secs, 1),
		humanize.IBytes(s.bytesTotal.Load()),
		humanize.Comma(int64(s.uploaded.Load())))
	fmt.Fprintf(w, "  released:  %s\n", humanize.Comma(int64(s.released.Load())))
	fmt.Fprintf(w, "  exhausted: %s\n", humanize.Comma(int64(s.exhausted.Load())))

	for _, c := range s.caches {
		st := c.Stats()
		fmt.Fprintf(w, "cache %s:\n", st.Name)
		fmt.Fprintf(w, "  heaps:     %d (%s, %s used, %s free in %d regions)\n",
			st.Heaps, humanize.IBytes(st.HeapBytes), humanize.IBytes(st.UsedBytes),
			humanize.IBytes(st.FreeBytes), st.FreeRegions)
		fmt.Fprintf(w, "  live:      %d allocations, %d pending, %d dedicated (%s)\n",
			st.Allocations, st.PendingReleases, st.Dedicated, humanize.IBytes(st.DedicatedBytes))
		fmt.Fprintf(w, "  acquired:  %s warm, %s cold, %s dedicated, %s failed\n",
			humanize.Comma(int64(st.WarmAllocations)), humanize.Comma(int64(st.ColdAllocations)),
			humanize.Comma(int64(st.DedicatedAllocations)), humanize.Comma(int64(st.Failures)))
		fmt.Fprintf(w, "  backings:  %s created, %s destroyed, %s evictions\n",
			humanize.Comma(int64(st.BackingsCreated)), humanize.Comma(int64(st.BackingsDestroyed)),
			humanize.Comma(int64(st.Evictions)))
	}
}
