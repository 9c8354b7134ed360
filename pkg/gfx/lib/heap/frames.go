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

// pendingRelease is a region waiting for its frame to be recycled.
type pendingRelease struct {
	heap   HeapID
	region FreeRegion
}

// frameQueue collects released regions per frame in flight. Regions
// released during a frame are returned to their heaps once the same
// frame index comes around again, when the consumer of the frame is
// known to be done with them.
type frameQueue struct {
	frames  [][]pendingRelease
	current int
}

func newFrameQueue(count int) *frameQueue {
	return &frameQueue{
		frames: make([][]pendingRelease, count),
	}
}

func (q *frameQueue) push(id HeapID, region FreeRegion) {
	q.frames[q.current] = append(q.frames[q.current], pendingRelease{heap: id, region: region})
}

func (q *frameQueue) take(idx int) []pendingRelease {
	pending := q.frames[idx]
	q.frames[idx] = nil
	return pending
}

func (q *frameQueue) pending() int {
	cnt := 0
	for _, f := range q.frames {
		cnt += len(f)
	}
	return cnt
}

// SetFrameIndex starts the frame with the given index. Regions released
// the last time this frame index was current are returned to their heaps,
// and regions released from now on are held back until the index comes
// around again. SetFrameIndex is a no-op for caches without frames.
func (c *Cache) SetFrameIndex(idx int) error {
	c.Lock()
	defer c.Unlock()

	if c.frames == nil {
		return nil
	}
	if idx < 0 || idx >= len(c.frames.frames) {
		return fmt.Errorf("%w: %d, frame count %d", ErrInvalidFrame, idx, len(c.frames.frames))
	}

	c.frames.current = idx
	c.collectFrame(idx)

	return nil
}

// CollectFrame returns regions held back for the given frame to their
// heaps right away.
func (c *Cache) CollectFrame(idx int) error {
	c.Lock()
	defer c.Unlock()

	if c.frames == nil {
		return nil
	}
	if idx < 0 || idx >= len(c.frames.frames) {
		return fmt.Errorf("%w: %d, frame count %d", ErrInvalidFrame, idx, len(c.frames.frames))
	}

	c.collectFrame(idx)

	return nil
}

// FrameCount returns the number of frames in flight, 0 if frame-delayed
// release is disabled.
func (c *Cache) FrameCount() int {
	if c.frames == nil {
		return 0
	}
	return len(c.frames.frames)
}

// PendingReleases returns the number of regions held back for release.
func (c *Cache) PendingReleases() int {
	c.Lock()
	defer c.Unlock()

	if c.frames == nil {
		return 0
	}
	return c.frames.pending()
}

func (c *Cache) collectFrame(idx int) {
	pending := c.frames.take(idx)
	if len(pending) == 0 {
		return
	}

	log.Debug("cache %s: frame #%d: releasing %d regions", c.name, idx, len(pending))

	for _, p := range pending {
		c.freeRegion(p.heap, p.region)
	}
}
