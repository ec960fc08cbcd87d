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

// Package pattern defines node identifiers, tree paths and path patterns,
// including the predicate conditions a pattern may carry. A Path locates a
// single node; a Pattern may additionally contain relative anchors and
// conditions and can therefore match many nodes at once.
package pattern

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// IDKind discriminates the two identifier representations.
type IDKind uint8

const (
	// IDAtom is a symbolic identifier, compared by content.
	IDAtom IDKind = iota
	// IDBinary is an opaque byte identifier, compared bytewise.
	IDBinary
)

// NodeID identifies a child within its parent. Two ids are equal iff they
// have the same kind and the same content. The tree root carries no id.
type NodeID struct {
	Kind  IDKind `json:"kind"`
	Atom  string `json:"atom,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
}

// Atom returns a symbolic id.
func Atom(s string) NodeID { return NodeID{Kind: IDAtom, Atom: s} }

// Binary returns an opaque byte id.
func Binary(b []byte) NodeID { return NodeID{Kind: IDBinary, Bytes: b} }

func (id NodeID) Equal(other NodeID) bool {
	return id.Compare(other) == 0
}

// Compare orders ids deterministically: atoms sort before binaries, and
// within a kind content is compared bytewise. This order underpins the
// deterministic processing order of deletes and cascades.
func (id NodeID) Compare(other NodeID) int {
	if id.Kind != other.Kind {
		if id.Kind == IDAtom {
			return -1
		}
		return 1
	}
	if id.Kind == IDAtom {
		return strings.Compare(id.Atom, other.Atom)
	}
	return bytes.Compare(id.Bytes, other.Bytes)
}

// String renders the id the way name regexes see it.
func (id NodeID) String() string {
	if id.Kind == IDAtom {
		return id.Atom
	}
	return string(id.Bytes)
}

// Key returns an unambiguous representation usable as a map key. Unlike
// String, it cannot collide across kinds.
func (id NodeID) Key() string {
	var sb strings.Builder
	appendIDKey(&sb, id)
	return sb.String()
}

func appendIDKey(sb *strings.Builder, id NodeID) {
	var lenBuf [binary.MaxVarintLen64]byte
	content := id.String()
	if id.Kind == IDAtom {
		sb.WriteByte('a')
	} else {
		sb.WriteByte('b')
	}
	n := binary.PutUvarint(lenBuf[:], uint64(len(content)))
	sb.Write(lenBuf[:n])
	sb.WriteString(content)
}

// Path is the sequence of ids from the root (exclusive) to a node
// (inclusive). The empty path denotes the root itself.
type Path []NodeID

// Compare orders paths component-wise, a strict prefix sorting before its
// extensions.
func (p Path) Compare(other Path) int {
	for i := range p {
		if i >= len(other) {
			return 1
		}
		if c := p[i].Compare(other[i]); c != 0 {
			return c
		}
	}
	if len(p) < len(other) {
		return -1
	}
	return 0
}

func (p Path) Equal(other Path) bool { return p.Compare(other) == 0 }

// Key returns an unambiguous map key for the path.
func (p Path) Key() string {
	var sb strings.Builder
	for _, id := range p {
		appendIDKey(&sb, id)
	}
	return sb.String()
}

func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, id := range p {
		sb.WriteByte('/')
		sb.WriteString(id.String())
	}
	return sb.String()
}

// Parent returns the path without its last component. The root is its own
// parent only in the sense that Parent of the empty path is empty; callers
// that need to reject that case check IsRoot first.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1]
}

func (p Path) IsRoot() bool { return len(p) == 0 }

// Last returns the final id. Calling Last on the root path returns the
// zero id; the root has no name.
func (p Path) Last() NodeID {
	if len(p) == 0 {
		return NodeID{}
	}
	return p[len(p)-1]
}

// Clone returns a copy that does not alias the receiver's backing array.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Pattern converts a concrete path into the equivalent pattern.
func (p Path) Pattern() Pattern {
	out := make(Pattern, len(p))
	for i, id := range p {
		out[i] = ComponentID(id)
	}
	return out
}

// ComponentKind discriminates pattern components.
type ComponentKind uint8

const (
	// KindID is a literal id component.
	KindID ComponentKind = iota
	// KindThis is the relative anchor resolving to the current path.
	KindThis
	// KindParent is the relative anchor resolving to the parent path.
	KindParent
	// KindRoot is the relative anchor resolving to the root.
	KindRoot
	// KindCondition is a predicate component.
	KindCondition
)

// Component is one element of a pattern: a literal id, a relative anchor,
// or a condition.
type Component struct {
	Kind ComponentKind `json:"kind"`
	ID   NodeID        `json:"id,omitempty"`
	Cond *Condition    `json:"cond,omitempty"`
}

func ComponentID(id NodeID) Component     { return Component{Kind: KindID, ID: id} }
func This() Component                     { return Component{Kind: KindThis} }
func ParentAnchor() Component             { return Component{Kind: KindParent} }
func RootAnchor() Component               { return Component{Kind: KindRoot} }
func ComponentCond(c Condition) Component { return Component{Kind: KindCondition, Cond: &c} }

// Pattern is a sequence of components addressing one or many nodes.
type Pattern []Component

// ErrAboveRoot is returned when anchor resolution walks above the root.
var ErrAboveRoot = errors.New("path resolves above the root")

// Normalize resolves relative anchors left to right against a running
// current path, initially the root. The result contains no anchors.
// PARENT immediately after a condition cannot be resolved statically and
// is rejected as well, wrapped in ErrAboveRoot semantics upstream.
func (p Pattern) Normalize() (Pattern, error) {
	out := make(Pattern, 0, len(p))
	for _, comp := range p {
		switch comp.Kind {
		case KindThis:
			// no-op
		case KindRoot:
			out = out[:0]
		case KindParent:
			if len(out) == 0 {
				return nil, ErrAboveRoot
			}
			if out[len(out)-1].Kind == KindCondition {
				return nil, errors.New("cannot resolve parent of a condition component")
			}
			out = out[:len(out)-1]
		default:
			out = append(out, comp)
		}
	}
	return out, nil
}

// Concrete reports whether the pattern contains only literal ids and, if
// so, returns the corresponding path. A concrete pattern addresses exactly
// one node.
func (p Pattern) Concrete() (Path, bool) {
	out := make(Path, 0, len(p))
	for _, comp := range p {
		if comp.Kind != KindID {
			return nil, false
		}
		out = append(out, comp.ID)
	}
	return out, true
}

// HasConditions reports whether any component is a predicate.
func (p Pattern) HasConditions() bool {
	for _, comp := range p {
		if comp.Kind == KindCondition {
			return true
		}
	}
	return false
}

func (p Pattern) String() string {
	if len(p) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, comp := range p {
		sb.WriteByte('/')
		switch comp.Kind {
		case KindID:
			sb.WriteString(comp.ID.String())
		case KindThis:
			sb.WriteByte('.')
		case KindParent:
			sb.WriteString("..")
		case KindRoot:
			sb.WriteString("<root>")
		case KindCondition:
			sb.WriteString(comp.Cond.String())
		}
	}
	return sb.String()
}

// SortPaths orders paths ascending per Path.Compare.
func SortPaths(paths []Path) {
	sort.Slice(paths, func(i, j int) bool {
		return paths[i].Compare(paths[j]) < 0
	})
}
