//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

// Package tree implements the mutable tree store and the pattern matcher.
// The tree only provides structural primitives; command semantics,
// version-bump policy beyond the primitives, and keep-while handling live
// in the fsm package.
package tree

import (
	"github.com/weaviate/arbor/pattern"
)

// Node is a tree node. Children are kept in insertion order; that order is
// part of the replicated state and must be identical across replicas, so
// it is maintained explicitly instead of relying on map iteration.
type Node struct {
	data    []byte
	hasData bool

	payloadVersion   uint64
	childListVersion uint64

	names    []pattern.NodeID
	children map[string]*Node
}

// NewNode returns an empty node with both version counters at 1.
func NewNode() *Node {
	return &Node{payloadVersion: 1, childListVersion: 1}
}

func (n *Node) PayloadVersion() uint64   { return n.payloadVersion }
func (n *Node) ChildListVersion() uint64 { return n.childListVersion }
func (n *Node) ChildListCount() uint64   { return uint64(len(n.names)) }

// Data returns the data payload and whether one is present.
func (n *Node) Data() ([]byte, bool) { return n.data, n.hasData }

// SetPayload installs a data payload and bumps the payload version.
func (n *Node) SetPayload(data []byte) {
	n.data = data
	n.hasData = true
	n.payloadVersion++
}

// ClearPayload removes the data payload and bumps the payload version.
// Calling it on a node without payload is the caller's mistake; the bump
// still happens.
func (n *Node) ClearPayload() {
	n.data = nil
	n.hasData = false
	n.payloadVersion++
}

// InitPayload installs the payload of a freshly created node without
// advancing the counter beyond its initial 1.
func (n *Node) InitPayload(data []byte) {
	n.data = data
	n.hasData = true
}

// RestoreNode rebuilds a node from snapshot fields. Children are attached
// afterwards with InitChild so the restored counters stay untouched.
func RestoreNode(data []byte, hasData bool, payloadVersion, childListVersion uint64) *Node {
	return &Node{
		data:             data,
		hasData:          hasData,
		payloadVersion:   payloadVersion,
		childListVersion: childListVersion,
	}
}

// Child returns the direct child with the given id, or nil.
func (n *Node) Child(id pattern.NodeID) *Node {
	if n.children == nil {
		return nil
	}
	return n.children[id.Key()]
}

// SetChild adds or replaces a direct child. Adding a new id bumps the
// child list version; replacing the node behind an existing id leaves the
// child set unchanged and does not.
func (n *Node) SetChild(id pattern.NodeID, child *Node) {
	key := id.Key()
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	if _, ok := n.children[key]; !ok {
		n.names = append(n.names, id)
		n.childListVersion++
	}
	n.children[key] = child
}

// InitChild attaches a child during initial assembly of a freshly created
// node, keeping the child list version at its initial 1. Using it on a
// node that is already part of the tree would break version monotonicity
// guarantees observed by readers.
func (n *Node) InitChild(id pattern.NodeID, child *Node) {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	key := id.Key()
	if _, ok := n.children[key]; !ok {
		n.names = append(n.names, id)
	}
	n.children[key] = child
}

// RemoveChild detaches the direct child with the given id, bumping the
// child list version. It reports whether the child existed.
func (n *Node) RemoveChild(id pattern.NodeID) bool {
	key := id.Key()
	if n.children == nil {
		return false
	}
	if _, ok := n.children[key]; !ok {
		return false
	}
	delete(n.children, key)
	for i := range n.names {
		if n.names[i].Equal(id) {
			n.names = append(n.names[:i], n.names[i+1:]...)
			break
		}
	}
	n.childListVersion++
	return true
}

// ChildNames returns the direct child ids in insertion order. The slice is
// a copy.
func (n *Node) ChildNames() []pattern.NodeID {
	out := make([]pattern.NodeID, len(n.names))
	copy(out, n.names)
	return out
}

// Walk descends from n along a concrete path and returns the target node,
// or nil if any component is missing.
func (n *Node) Walk(path pattern.Path) *Node {
	cur := n
	for _, id := range path {
		cur = cur.Child(id)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// CountNodes returns the number of nodes in the subtree rooted at n,
// including n itself.
func (n *Node) CountNodes() int {
	total := 1
	for _, name := range n.names {
		total += n.children[name.Key()].CountNodes()
	}
	return total
}

// EachChild visits the direct children in insertion order.
func (n *Node) EachChild(fn func(id pattern.NodeID, child *Node) error) error {
	for _, name := range n.names {
		if err := fn(name, n.children[name.Key()]); err != nil {
			return err
		}
	}
	return nil
}
