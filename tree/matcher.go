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

package tree

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/weaviate/arbor/pattern"
)

var (
	// ErrNoMatchingNodes is returned when a match expected to target a
	// specific node found none.
	ErrNoMatchingNodes = errors.New("no matching nodes")
	// ErrManyMatchingNodes is returned when a match expected to target a
	// specific node found several.
	ErrManyMatchingNodes = errors.New("many matching nodes")
	// ErrTooManyResults is returned when a match exceeds the result cap.
	ErrTooManyResults = errors.New("too many matching nodes")
)

// Options control a FindMatching call. Unknown options in stored commands
// are ignored by json decoding, which keeps old logs replayable by newer
// binaries.
type Options struct {
	// IncludeChildNames adds the list of direct child ids, in insertion
	// order, to every projection.
	IncludeChildNames bool `json:"include_child_names,omitempty"`

	// ExpectSpecificNode fails the whole match unless it yields exactly
	// one node.
	ExpectSpecificNode bool `json:"expect_specific_node,omitempty"`

	// MaxResults caps the size of the result map; zero means no cap. It is
	// set by the state machine, never by clients.
	MaxResults int `json:"-"`
}

// Projection is the subset of node fields reported in a result map. The
// zero value doubles as the "empty prior projection" reported for nodes
// that did not exist before a write; real nodes always have versions >= 1.
type Projection struct {
	PayloadVersion   uint64 `json:"payload_version"`
	ChildListVersion uint64 `json:"child_list_version"`
	ChildListCount   uint64 `json:"child_list_count"`

	Data    []byte `json:"data,omitempty"`
	HasData bool   `json:"has_data,omitempty"`

	ChildNames []pattern.NodeID `json:"child_names,omitempty"`
}

// IsZero reports whether the projection is the empty prior projection.
func (p Projection) IsZero() bool {
	return p.PayloadVersion == 0 && p.ChildListVersion == 0
}

// Project captures a node's projection.
func Project(n *Node, includeChildNames bool) Projection {
	p := Projection{
		PayloadVersion:   n.PayloadVersion(),
		ChildListVersion: n.ChildListVersion(),
		ChildListCount:   n.ChildListCount(),
	}
	if data, ok := n.Data(); ok {
		p.Data = data
		p.HasData = true
	}
	if includeChildNames {
		p.ChildNames = n.ChildNames()
	}
	return p
}

// ResultEntry is one row of a result map.
type ResultEntry struct {
	Path  pattern.Path `json:"path"`
	Props Projection   `json:"props"`
}

// ResultMap is the ordered mapping from absolute path to projection
// produced by the matcher. Entries are sorted ascending by path, which
// makes the wire form and all downstream iteration deterministic.
type ResultMap []ResultEntry

// Get returns the projection recorded for a path.
func (r ResultMap) Get(p pattern.Path) (Projection, bool) {
	for i := range r {
		if r[i].Path.Equal(p) {
			return r[i].Props, true
		}
	}
	return Projection{}, false
}

// Paths returns the matched paths in ascending order.
func (r ResultMap) Paths() []pattern.Path {
	out := make([]pattern.Path, len(r))
	for i := range r {
		out[i] = r[i].Path
	}
	return out
}

// FindMatching evaluates a pattern against the tree rooted at root and
// returns the deterministic result map. Each node is emitted at most once
// even when several pattern expansions reach it.
func FindMatching(root *Node, pat pattern.Pattern, opts Options) (ResultMap, error) {
	m := &matcher{
		root:    root,
		opts:    opts,
		visited: make(map[string]struct{}),
	}
	if err := m.match(root, nil, pat); err != nil {
		return nil, err
	}
	sort.Slice(m.out, func(i, j int) bool {
		return m.out[i].Path.Compare(m.out[j].Path) < 0
	})
	if opts.ExpectSpecificNode {
		if len(m.out) == 0 {
			return nil, ErrNoMatchingNodes
		}
		if len(m.out) > 1 {
			return nil, ErrManyMatchingNodes
		}
	}
	return m.out, nil
}

type matcher struct {
	root    *Node
	opts    Options
	visited map[string]struct{}
	out     ResultMap
}

func (m *matcher) emit(n *Node, abs pattern.Path) error {
	key := abs.Key()
	if _, seen := m.visited[key]; seen {
		return nil
	}
	m.visited[key] = struct{}{}
	if m.opts.MaxResults > 0 && len(m.out) >= m.opts.MaxResults {
		return ErrTooManyResults
	}
	m.out = append(m.out, ResultEntry{
		Path:  abs.Clone(),
		Props: Project(n, m.opts.IncludeChildNames),
	})
	return nil
}

func (m *matcher) match(n *Node, abs pattern.Path, rem pattern.Pattern) error {
	if len(rem) == 0 {
		return m.emit(n, abs)
	}
	head, tail := rem[0], rem[1:]

	switch head.Kind {
	case pattern.KindThis:
		return m.match(n, abs, tail)

	case pattern.KindRoot:
		return m.match(m.root, nil, tail)

	case pattern.KindParent:
		if abs.IsRoot() {
			return nil
		}
		parentPath := abs.Parent()
		parent := m.root.Walk(parentPath)
		if parent == nil {
			return nil
		}
		return m.match(parent, parentPath, tail)

	case pattern.KindID:
		child := n.Child(head.ID)
		if child == nil {
			return nil
		}
		return m.match(child, childPath(abs, head.ID), tail)

	case pattern.KindCondition:
		cond := head.Cond
		if cond.Kind == pattern.CondPathMatches {
			return m.matchRun(n, abs, cond, nil, tail)
		}
		// A literal id embedded in the condition restricts the match to
		// that one child instead of enumerating all of them.
		if id, ok := cond.LiteralID(); ok {
			child := n.Child(id)
			if child == nil {
				return nil
			}
			ok, err := cond.Eval(id, child)
			if err != nil || !ok {
				return err
			}
			return m.match(child, childPath(abs, id), tail)
		}
		return n.EachChild(func(id pattern.NodeID, child *Node) error {
			ok, err := cond.Eval(id, child)
			if err != nil || !ok {
				return err
			}
			return m.match(child, childPath(abs, id), tail)
		})
	}
	return errors.Wrapf(pattern.ErrInvalidOperand, "unknown component kind %d", uint8(head.Kind))
}

// matchRun expands a path-matches condition: it consumes one or more
// components, and wherever the joined run matches the regex the remaining
// pattern continues against that node. The unconditional form behaves as a
// Kleene-plus over children.
func (m *matcher) matchRun(n *Node, abs pattern.Path, cond *pattern.Condition, run []string, tail pattern.Pattern) error {
	return n.EachChild(func(id pattern.NodeID, child *Node) error {
		extended := make([]string, len(run)+1)
		copy(extended, run)
		extended[len(run)] = id.String()
		matched := cond.Any
		if !matched {
			var err error
			matched, err = cond.MatchString(strings.Join(extended, "/"))
			if err != nil {
				return err
			}
		}
		cp := childPath(abs, id)
		if matched {
			if err := m.match(child, cp, tail); err != nil {
				return err
			}
		}
		return m.matchRun(child, cp, cond, extended, tail)
	})
}

func childPath(abs pattern.Path, id pattern.NodeID) pattern.Path {
	out := make(pattern.Path, len(abs)+1)
	copy(out, abs)
	out[len(abs)] = id
	return out
}
