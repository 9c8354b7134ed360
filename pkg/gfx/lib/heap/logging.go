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

	"github.com/dustin/go-humanize"

	logger "github.com/gpuheap/gpuheap/pkg/log"
)

var (
	log     = logger.Get("libheap")
	details = logger.Get("libheap-details")
)

func (c *Cache) DumpConfig(context ...interface{}) {
	prefix := formatPrefix(context...)
	log.Info("%scache %s configuration", prefix, c.name)
	if c.blockSize > 0 {
		log.Info("%s  block size %s x %d", prefix, prettySize(c.blockSize), c.blockCount)
	} else {
		log.Info("%s  backing allocations sized by request", prefix)
	}
	if c.dedicated > 0 {
		log.Info("%s  dedicated allocations from %s", prefix, prettySize(c.dedicated))
	}
	if c.frames != nil {
		log.Info("%s  %d frames in flight", prefix, len(c.frames.frames))
	}
}

func (c *Cache) DumpState(context ...interface{}) {
	if !details.DebugEnabled() {
		return
	}

	c.Lock()
	defer c.Unlock()

	prefix := formatPrefix(context...)
	c.dumpHeaps(prefix)
}

func (c *Cache) dumpHeaps(prefix string) {
	if len(c.order) == 0 {
		details.Debug("%s  cache %s: no heaps", prefix, c.name)
		return
	}

	details.Debug("%s  cache %s heaps:", prefix, c.name)
	for _, id := range c.order {
		var (
			bh   = c.heaps[id]
			h    = bh.heap
			used = prettySize(h.Used())
			free = prettySize(h.Available())
		)
		details.Debug("%s    - %s, %d allocations, used %s, free %s", prefix, bh,
			h.Allocations(), used, free)
		for _, r := range h.FreeRegions() {
			details.Debug("%s        free %s", prefix, r)
		}
	}
	if c.direct > 0 {
		details.Debug("%s  %d dedicated allocations of %s", prefix, c.direct, prettySize(c.directSize))
	}
}

// validateHeap checks the consistency of a heap after an operation when
// detailed debugging is on.
func (c *Cache) validateHeap(where string, bh *BackedHeap) {
	if !details.DebugEnabled() {
		return
	}

	if err := bh.heap.Validate(); err != nil {
		log.Error("internal error: %s: cache %s: %s: %v", where, c.name, bh, err)
		c.dumpHeaps("  ")
	}
}

func formatPrefix(args ...interface{}) string {
	narg := len(args)
	if narg == 0 {
		return ""
	}

	format, ok := args[0].(string)
	if !ok {
		return "%%(!libheap:Bad-Prefix)"
	}

	if len(args) == 1 {
		return format
	}

	return fmt.Sprintf(format, args[1:]...)
}

func prettySize(size uint64) string {
	return humanize.IBytes(size)
}
