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
	"strings"

	"github.com/pkg/errors"
)

// ParsePattern parses a unix-style string form of a pattern:
//
//	/stock/wood        literal components
//	.                  THIS anchor
//	..                 PARENT anchor
//	*                  any name
//	**                 any descendant
//
// Components are parsed as atom ids. Empty segments are ignored, so
// "/stock//wood" and "stock/wood/" are fine. The empty string and "/"
// both denote the root.
func ParsePattern(s string) Pattern {
	segs := strings.Split(s, "/")
	out := make(Pattern, 0, len(segs))
	for _, seg := range segs {
		switch seg {
		case "":
			// skip
		case ".":
			out = append(out, This())
		case "..":
			out = append(out, ParentAnchor())
		case "*":
			out = append(out, ComponentCond(AnyName()))
		case "**":
			out = append(out, ComponentCond(AnyPath()))
		default:
			out = append(out, ComponentID(Atom(seg)))
		}
	}
	return out
}

// ParsePath parses the string form of a concrete path. Wildcards are
// rejected; anchors are resolved.
func ParsePath(s string) (Path, error) {
	pat, err := ParsePattern(s).Normalize()
	if err != nil {
		return nil, err
	}
	path, ok := pat.Concrete()
	if !ok {
		return nil, errors.Errorf("%q is a pattern, not a path", s)
	}
	return path, nil
}
