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

import "fmt"

// nodeID identifies a node in the node arena of a SubHeap.
type nodeID int32

const (
	// noNode is the reference to a non-existent node.
	noNode nodeID = -1
)

// heapNode is a single node in the binary split/merge tree of a SubHeap.
// A node with children is subdivided and its inUse flag only tells that
// it has been split. A leaf with inUse set is a granted region.
type heapNode struct {
	size   uint64
	offset uint64
	parent nodeID
	left   nodeID
	right  nodeID
	inUse  bool
}

// nodeArena stores the nodes of a tree, recycling the slots of removed nodes.
type nodeArena struct {
	nodes []heapNode
	idle  []nodeID
}

func (n *heapNode) isLeaf() bool {
	return n.left == noNode && n.right == noNode
}

func (n *heapNode) end() uint64 {
	return n.offset + n.size
}

func (n *heapNode) String() string {
	state := "free"
	switch {
	case !n.isLeaf():
		state = "split"
	case n.inUse:
		state = "used"
	}
	return fmt.Sprintf("<%s %d@%d>", state, n.size, n.offset)
}

// add adds a new node with the given size, offset and parent.
func (a *nodeArena) add(size, offset uint64, parent nodeID, inUse bool) nodeID {
	node := heapNode{
		size:   size,
		offset: offset,
		parent: parent,
		left:   noNode,
		right:  noNode,
		inUse:  inUse,
	}

	if cnt := len(a.idle); cnt > 0 {
		id := a.idle[cnt-1]
		a.idle = a.idle[:cnt-1]
		a.nodes[id] = node
		return id
	}

	a.nodes = append(a.nodes, node)
	return nodeID(len(a.nodes) - 1)
}

// remove releases the slot of the given node for reuse.
func (a *nodeArena) remove(id nodeID) {
	if id == noNode {
		return
	}
	a.nodes[id] = heapNode{parent: noNode, left: noNode, right: noNode}
	a.idle = append(a.idle, id)
}

// get returns the node with the given ID. The returned pointer is only
// valid until the next call to add.
func (a *nodeArena) get(id nodeID) *heapNode {
	return &a.nodes[id]
}

// valid checks if the given ID refers to a slot in the arena.
func (a *nodeArena) valid(id nodeID) bool {
	return id >= 0 && int(id) < len(a.nodes)
}

// count returns the number of nodes currently present in the arena.
func (a *nodeArena) count() int {
	return len(a.nodes) - len(a.idle)
}
