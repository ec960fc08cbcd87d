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

package pattern

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

// ConditionKind discriminates the predicate sum type. The evaluator is an
// exhaustive switch over these kinds; there is no dynamic dispatch.
type ConditionKind uint8

const (
	// CondNameMatches matches ids whose string form matches a regex.
	CondNameMatches ConditionKind = iota
	// CondDataMatches matches nodes carrying a data payload equal to the
	// given bytes; an empty pattern matches any data payload.
	CondDataMatches
	// CondChildListCount compares the number of direct children.
	CondChildListCount
	// CondChildListVersion compares the child list version counter.
	CondChildListVersion
	// CondPayloadVersion compares the payload version counter.
	CondPayloadVersion
	// CondPathMatches matches a run of one or more components whose joined
	// string form matches a regex. This is the wildcard/recursive form.
	CondPathMatches
	// CondAll is the conjunction of sub-conditions.
	CondAll
	// CondAny is the disjunction of sub-conditions.
	CondAny
	// CondID matches a specific literal id.
	CondID
	// CondNodeExists asserts presence or absence of the node.
	CondNodeExists
)

// CompareOp is the operator of a counter comparison.
type CompareOp uint8

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpLt:
		return "lt"
	case OpLe:
		return "le"
	case OpGt:
		return "gt"
	case OpGe:
		return "ge"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

func (op CompareOp) apply(have, want uint64) (bool, error) {
	switch op {
	case OpEq:
		return have == want, nil
	case OpNe:
		return have != want, nil
	case OpLt:
		return have < want, nil
	case OpLe:
		return have <= want, nil
	case OpGt:
		return have > want, nil
	case OpGe:
		return have >= want, nil
	}
	return false, errors.Wrapf(ErrInvalidOperand, "unknown compare op %d", uint8(op))
}

// ErrInvalidOperand flags a malformed predicate operand, e.g. an unknown
// comparison operator or a regex that does not compile.
var ErrInvalidOperand = errors.New("invalid condition operand")

// Condition is a single predicate. It is a tagged union: which fields are
// meaningful depends on Kind. The zero value is CondNameMatches with an
// empty regex, which matches nothing; use Any for the unconditional form.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Any makes CondNameMatches and CondPathMatches unconditional.
	Any   bool   `json:"any,omitempty"`
	Regex string `json:"regex,omitempty"`

	// ID is the literal for CondID.
	ID NodeID `json:"id,omitempty"`

	// Data is the payload pattern for CondDataMatches; empty means any.
	Data []byte `json:"data,omitempty"`

	// Op and Value form the operand of the counter comparisons.
	Op    CompareOp `json:"op,omitempty"`
	Value uint64    `json:"value,omitempty"`

	// Exists is the asserted presence for CondNodeExists.
	Exists bool `json:"exists,omitempty"`

	// Conds are the sub-conditions of CondAll and CondAny.
	Conds []Condition `json:"conds,omitempty"`

	re *regexp.Regexp
}

// NameMatches matches ids whose string form matches the regex, unanchored.
func NameMatches(regex string) Condition {
	return Condition{Kind: CondNameMatches, Regex: regex}
}

// AnyName matches every id.
func AnyName() Condition { return Condition{Kind: CondNameMatches, Any: true} }

// PathMatches matches one or more components whose joined string form
// matches the regex.
func PathMatches(regex string) Condition {
	return Condition{Kind: CondPathMatches, Regex: regex}
}

// AnyPath matches any non-empty run of components, i.e. any descendant.
func AnyPath() Condition { return Condition{Kind: CondPathMatches, Any: true} }

// DataMatches matches nodes whose data payload equals data; nil matches
// any data payload.
func DataMatches(data []byte) Condition {
	return Condition{Kind: CondDataMatches, Data: data}
}

func ChildListCount(op CompareOp, n uint64) Condition {
	return Condition{Kind: CondChildListCount, Op: op, Value: n}
}

func ChildListVersion(op CompareOp, n uint64) Condition {
	return Condition{Kind: CondChildListVersion, Op: op, Value: n}
}

func PayloadVersion(op CompareOp, n uint64) Condition {
	return Condition{Kind: CondPayloadVersion, Op: op, Value: n}
}

func All(conds ...Condition) Condition   { return Condition{Kind: CondAll, Conds: conds} }
func AnyOf(conds ...Condition) Condition { return Condition{Kind: CondAny, Conds: conds} }

func IDCond(id NodeID) Condition { return Condition{Kind: CondID, ID: id} }

func NodeExists(exists bool) Condition {
	return Condition{Kind: CondNodeExists, Exists: exists}
}

// NodeView is the read-only projection of a tree node a condition is
// evaluated against. The tree package's node satisfies it.
type NodeView interface {
	PayloadVersion() uint64
	ChildListVersion() uint64
	ChildListCount() uint64
	Data() ([]byte, bool)
}

// compiled returns the compiled regex, compiling it on first use.
func (c *Condition) compiled() (*regexp.Regexp, error) {
	if c.re != nil {
		return c.re, nil
	}
	re, err := regexp.Compile(c.Regex)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidOperand, "compile regex %q: %v", c.Regex, err)
	}
	c.re = re
	return re, nil
}

// MatchString applies the regex of a name or path condition to s. The Any
// form matches everything.
func (c *Condition) MatchString(s string) (bool, error) {
	if c.Any {
		return true, nil
	}
	re, err := c.compiled()
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

// Eval evaluates the condition against a single component (id, node). For
// CondPathMatches the matcher drives the multi-component expansion itself;
// here it degrades to matching the single id, which is what the expansion
// applies at each consumed step's end. CondNodeExists evaluates presence:
// within Eval the node is present by construction, so the condition holds
// iff Exists is true; absent nodes are handled by the caller.
func (c *Condition) Eval(id NodeID, n NodeView) (bool, error) {
	switch c.Kind {
	case CondID:
		return c.ID.Equal(id), nil
	case CondNameMatches, CondPathMatches:
		return c.MatchString(id.String())
	case CondDataMatches:
		data, ok := n.Data()
		if !ok {
			return false, nil
		}
		if len(c.Data) == 0 {
			return true, nil
		}
		return bytes.Equal(c.Data, data), nil
	case CondChildListCount:
		return c.Op.apply(n.ChildListCount(), c.Value)
	case CondChildListVersion:
		return c.Op.apply(n.ChildListVersion(), c.Value)
	case CondPayloadVersion:
		return c.Op.apply(n.PayloadVersion(), c.Value)
	case CondAll:
		for i := range c.Conds {
			ok, err := c.Conds[i].Eval(id, n)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case CondAny:
		for i := range c.Conds {
			ok, err := c.Conds[i].Eval(id, n)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case CondNodeExists:
		return c.Exists, nil
	}
	return false, errors.Wrapf(ErrInvalidOperand, "unknown condition kind %d", uint8(c.Kind))
}

// LiteralID digs out a literal id embedded in the condition, directly or
// as a sub-condition of a conjunction. The matcher uses it to restrict
// child enumeration to one specific child.
func (c Condition) LiteralID() (NodeID, bool) {
	switch c.Kind {
	case CondID:
		return c.ID, true
	case CondAll:
		for i := range c.Conds {
			if id, ok := c.Conds[i].LiteralID(); ok {
				return id, true
			}
		}
	}
	return NodeID{}, false
}

func (c *Condition) String() string {
	switch c.Kind {
	case CondNameMatches:
		if c.Any {
			return "*"
		}
		return fmt.Sprintf("<name~%q>", c.Regex)
	case CondPathMatches:
		if c.Any {
			return "**"
		}
		return fmt.Sprintf("<path~%q>", c.Regex)
	case CondDataMatches:
		return "<data>"
	case CondChildListCount:
		return fmt.Sprintf("<child_list_count %s %d>", c.Op, c.Value)
	case CondChildListVersion:
		return fmt.Sprintf("<child_list_version %s %d>", c.Op, c.Value)
	case CondPayloadVersion:
		return fmt.Sprintf("<payload_version %s %d>", c.Op, c.Value)
	case CondAll:
		return fmt.Sprintf("<all:%d>", len(c.Conds))
	case CondAny:
		return fmt.Sprintf("<any:%d>", len(c.Conds))
	case CondID:
		return fmt.Sprintf("<id:%s>", c.ID)
	case CondNodeExists:
		return fmt.Sprintf("<exists:%t>", c.Exists)
	}
	return fmt.Sprintf("<cond(%d)>", uint8(c.Kind))
}
