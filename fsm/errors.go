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

package fsm

import (
	"github.com/pkg/errors"

	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/proto/api"
	"github.com/weaviate/arbor/tree"
)

var (
	// ErrInvalidPath flags a path that resolves above the root or contains
	// a forbidden component.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidPattern flags a pattern with a malformed predicate.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrResourceLimit flags a command that exceeded an implementation cap.
	ErrResourceLimit = errors.New("resource limit exceeded")

	// ErrCorruptSnapshot is fatal: the snapshot bytes cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrUnsupportedVersion is fatal: the snapshot was written by an
	// incompatible format version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

// ErrorKindOf maps an error to its wire kind. Errors produced by commands
// are always packaged into replies; nothing escapes apply out of band.
func ErrorKindOf(err error) string {
	switch {
	case errors.Is(err, tree.ErrNoMatchingNodes):
		return api.ErrorNoMatchingNodes
	case errors.Is(err, tree.ErrManyMatchingNodes):
		return api.ErrorManyMatchingNodes
	case errors.Is(err, pattern.ErrAboveRoot), errors.Is(err, ErrInvalidPath):
		return api.ErrorInvalidPath
	case errors.Is(err, pattern.ErrInvalidOperand), errors.Is(err, ErrInvalidPattern):
		return api.ErrorInvalidPattern
	case errors.Is(err, tree.ErrTooManyResults), errors.Is(err, ErrResourceLimit):
		return api.ErrorResourceLimit
	}
	return api.ErrorInternal
}

// ReplyError packages an error for the wire.
func ReplyError(err error) *api.ErrorReply {
	if err == nil {
		return nil
	}
	return &api.ErrorReply{Kind: ErrorKindOf(err), Detail: err.Error()}
}
