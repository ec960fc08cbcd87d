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

// Package fsm implements the deterministic tree state machine: the
// command interpreter over the tree store, the keep-while constraint
// graph with its cascade, and the snapshot codec. A machine fed the same
// command sequence from the same snapshot produces bit-for-bit identical
// state on every replica; everything here is single-threaded, clock-free
// and allocation-order independent.
package fsm

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/proto/api"
	"github.com/weaviate/arbor/tree"
)

// DefaultMaxResults caps result maps when the config does not say
// otherwise.
const DefaultMaxResults = 10_000

// Config parameterizes a machine. The zero value is usable.
type Config struct {
	// MaxResults caps the size of any result map; commands exceeding it
	// fail with a resource_limit reply.
	MaxResults int

	// Commands is an optional list of commands replayed at construction
	// time, mainly for tests. Reply errors during replay are part of the
	// deterministic outcome and are not surfaced.
	Commands []*api.ApplyRequest
}

// Machine is the deterministic state machine. It is not safe for
// concurrent use; the replication shell serializes Apply calls and guards
// reads with its own lock.
type Machine struct {
	root       *tree.Node
	kw         *keepWhileTable
	maxResults int
}

// NewMachine returns a machine holding just a root node, optionally
// replaying cfg.Commands.
func NewMachine(cfg Config) *Machine {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	m := &Machine{
		root:       tree.NewNode(),
		kw:         newKeepWhileTable(),
		maxResults: maxResults,
	}
	for _, cmd := range cfg.Commands {
		m.Apply(cmd)
	}
	return m
}

// Response is the outcome of one applied command.
type Response struct {
	Result tree.ResultMap
	Error  error
}

// Wire packages the response for transport.
func (r *Response) Wire() *api.ApplyResponse {
	return &api.ApplyResponse{Result: r.Result, Error: ReplyError(r.Error)}
}

// Apply executes one replicated command. It is the only mutator of the
// machine. Errors are part of the reply; Apply itself never fails.
func (m *Machine) Apply(req *api.ApplyRequest) *Response {
	switch req.Type {
	case api.CommandPut:
		var sub api.PutRequest
		if err := json.Unmarshal(req.SubCommand, &sub); err != nil {
			return &Response{Error: errors.Wrap(err, "decode put command")}
		}
		result, err := m.Put(&sub)
		return &Response{Result: result, Error: err}

	case api.CommandDelete:
		var sub api.DeleteRequest
		if err := json.Unmarshal(req.SubCommand, &sub); err != nil {
			return &Response{Error: errors.Wrap(err, "decode delete command")}
		}
		result, err := m.Delete(&sub)
		return &Response{Result: result, Error: err}
	}
	return &Response{Error: errors.Errorf("unknown command type %d", uint8(req.Type))}
}

// Get runs a read-only match. It never modifies state and may be called
// between commands at any consistent point.
func (m *Machine) Get(req *api.QueryRequest) (tree.ResultMap, error) {
	pat, err := req.PathPattern.Normalize()
	if err != nil {
		return nil, err
	}
	opts := req.Options
	if opts.MaxResults <= 0 || opts.MaxResults > m.maxResults {
		opts.MaxResults = m.maxResults
	}
	return tree.FindMatching(m.root, pat, opts)
}

// Put writes a payload to all nodes matched by the pattern. A concrete
// pattern that matches nothing creates the node, materializing
// intermediaries along the way; a pattern with predicates is a query and
// never fabricates nodes. The reply maps each affected path to its
// projection as it was before the write.
func (m *Machine) Put(req *api.PutRequest) (tree.ResultMap, error) {
	pat, err := req.PathPattern.Normalize()
	if err != nil {
		return nil, err
	}

	// Validate the keep-while map before touching the tree: a command that
	// is rejected must leave no trace in the state.
	target, concrete := pat.Concrete()
	if len(req.KeepWhile) > 0 {
		if !concrete {
			return nil, errors.Wrap(ErrInvalidPattern, "keep_while requires a concrete target path")
		}
		for i := range req.KeepWhile {
			if _, err := resolveWatched(target, req.KeepWhile[i].Path); err != nil {
				return nil, err
			}
		}
	}

	cx := newChangeSet()
	var result tree.ResultMap
	if concrete {
		result, err = m.putConcrete(target, req.Payload, cx)
	} else {
		result, err = m.putMatches(pat, req.Payload, cx)
	}
	if err != nil {
		return nil, err
	}

	var exempt map[string]struct{}
	if len(req.KeepWhile) > 0 {
		if err := m.kw.install(target, req.KeepWhile); err != nil {
			return nil, err
		}
		exempt = map[string]struct{}{target.Key(): {}}
	}

	m.cascade(cx, exempt)
	return result, nil
}

func (m *Machine) putConcrete(path pattern.Path, payload *api.Payload, cx *changeSet) (tree.ResultMap, error) {
	if node := m.root.Walk(path); node != nil {
		prior := tree.Project(node, false)
		m.writePayload(node, path, payload, cx)
		return tree.ResultMap{{Path: path.Clone(), Props: prior}}, nil
	}

	// Creation: descend to the deepest existing ancestor, assemble the
	// missing chain as a fresh subtree (counters at their initial 1), and
	// attach it with a single child-list bump on the existing parent.
	cur := m.root
	i := 0
	for ; i < len(path); i++ {
		next := cur.Child(path[i])
		if next == nil {
			break
		}
		cur = next
	}

	leaf := tree.NewNode()
	if payload != nil {
		leaf.InitPayload(payload.Data)
	}
	cx.mark(path)
	top := leaf
	for j := len(path) - 1; j > i; j-- {
		parent := tree.NewNode()
		parent.InitChild(path[j], top)
		top = parent
		cx.mark(path[:j])
	}
	cur.SetChild(path[i], top)
	cx.mark(path[:i])

	return tree.ResultMap{{Path: path.Clone(), Props: tree.Projection{}}}, nil
}

func (m *Machine) putMatches(pat pattern.Pattern, payload *api.Payload, cx *changeSet) (tree.ResultMap, error) {
	matches, err := tree.FindMatching(m.root, pat, tree.Options{MaxResults: m.maxResults})
	if err != nil {
		return nil, err
	}
	for _, entry := range matches {
		node := m.root.Walk(entry.Path)
		if node == nil {
			continue
		}
		m.writePayload(node, entry.Path, payload, cx)
	}
	return matches, nil
}

// writePayload applies the payload-version bump policy: any put of a data
// payload bumps, even when the value is unchanged; putting "no payload"
// bumps only when it actually clears data.
func (m *Machine) writePayload(node *tree.Node, path pattern.Path, payload *api.Payload, cx *changeSet) {
	if payload == nil {
		if _, has := node.Data(); has {
			node.ClearPayload()
			cx.mark(path)
		}
		return
	}
	node.SetPayload(payload.Data)
	cx.mark(path)
}

// Delete removes every node matched by the pattern, along with its
// subtree, in ascending path order. The reply maps each matched path to
// its prior projection.
func (m *Machine) Delete(req *api.DeleteRequest) (tree.ResultMap, error) {
	pat, err := req.PathPattern.Normalize()
	if err != nil {
		return nil, err
	}
	matches, err := tree.FindMatching(m.root, pat, tree.Options{MaxResults: m.maxResults})
	if err != nil {
		return nil, err
	}

	cx := newChangeSet()
	for _, entry := range matches {
		m.deletePath(entry.Path, cx)
	}
	m.kw.dropWatchers(cx.deleted)
	m.cascade(cx, nil)
	return matches, nil
}

// deletePath removes the node at path and its subtree, recording every
// removed node in the change set. Deleting the root path clears the
// root's children; the root node itself always survives.
func (m *Machine) deletePath(path pattern.Path, cx *changeSet) {
	if path.IsRoot() {
		for _, id := range m.root.ChildNames() {
			m.removeSubtree(m.root, nil, id, cx)
		}
		cx.mark(nil)
		return
	}
	parentPath := path.Parent()
	parent := m.root.Walk(parentPath)
	if parent == nil || parent.Child(path.Last()) == nil {
		// already gone, e.g. removed along with an ancestor earlier in
		// this same command
		return
	}
	m.removeSubtree(parent, parentPath, path.Last(), cx)
	cx.mark(parentPath)
}

func (m *Machine) removeSubtree(parent *tree.Node, parentPath pattern.Path, id pattern.NodeID, cx *changeSet) {
	child := parent.Child(id)
	childPath := append(parentPath.Clone(), id)
	// snapshot the names; removeSubtree mutates the child list it walks
	for _, grandID := range child.ChildNames() {
		m.removeSubtree(child, childPath, grandID, cx)
	}
	parent.RemoveChild(id)
	cx.markDeleted(childPath)
}

// Stats describes the machine's current size.
type Stats struct {
	Nodes            int
	KeepWhileEntries int
}

func (m *Machine) Stats() Stats {
	return Stats{
		Nodes:            m.root.CountNodes(),
		KeepWhileEntries: m.kw.len(),
	}
}

// changeSet tracks the nodes whose existence, payload or counters changed
// during one command step, keyed by canonical path.
type changeSet struct {
	dirty   map[string]pattern.Path
	deleted map[string]pattern.Path
}

func newChangeSet() *changeSet {
	return &changeSet{
		dirty:   make(map[string]pattern.Path),
		deleted: make(map[string]pattern.Path),
	}
}

func (c *changeSet) mark(path pattern.Path) {
	c.dirty[path.Key()] = path.Clone()
}

func (c *changeSet) markDeleted(path pattern.Path) {
	key := path.Key()
	c.dirty[key] = path.Clone()
	c.deleted[key] = c.dirty[key]
}
