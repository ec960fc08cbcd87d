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

// Package api defines the command and reply envelopes exchanged between
// clients, the replication log and the state machine. Commands are the
// only way to mutate a tree; they form a small, serializable DSL, so a
// stored log replays identically on every replica.
package api

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/tree"
)

// CommandType tags an ApplyRequest. Only mutations go through the
// replicated log; reads are served via QueryRequest outside of it.
type CommandType uint8

const (
	CommandUnknown CommandType = iota
	CommandPut
	CommandDelete
)

func (t CommandType) String() string {
	switch t {
	case CommandPut:
		return "put"
	case CommandDelete:
		return "delete"
	}
	return "unknown"
}

// ApplyRequest is the envelope appended to the replicated log. SubCommand
// holds the json-marshaled concrete request for Type.
type ApplyRequest struct {
	Type       CommandType     `json:"type"`
	SubCommand json.RawMessage `json:"sub_command,omitempty"`
}

// Payload is an opaque data payload. A nil *Payload means "no payload";
// the distinction matters because a node may exist payloadless.
type Payload struct {
	Data []byte `json:"data"`
}

// KeepWhileCondition is one entry of a keep-while map: the watcher node
// exists only while the node at Path satisfies Condition. Path may contain
// anchors; they are resolved against the watcher's own path at install
// time.
type KeepWhileCondition struct {
	Path      pattern.Pattern   `json:"path"`
	Condition pattern.Condition `json:"condition"`
}

// PutRequest writes a payload to every node matched by PathPattern, or
// creates the node (with intermediaries) when the pattern is a concrete
// path.
type PutRequest struct {
	PathPattern pattern.Pattern      `json:"path_pattern"`
	Payload     *Payload             `json:"payload,omitempty"`
	KeepWhile   []KeepWhileCondition `json:"keep_while,omitempty"`
}

// DeleteRequest removes every node matched by PathPattern, together with
// their subtrees.
type DeleteRequest struct {
	PathPattern pattern.Pattern `json:"path_pattern"`
}

// QueryRequest is a read-only match. It never enters the replicated log.
type QueryRequest struct {
	PathPattern pattern.Pattern `json:"path_pattern"`
	Options     tree.Options    `json:"options,omitempty"`
}

// Error kinds carried in reply envelopes. These are wire-stable.
const (
	ErrorNoMatchingNodes   = "no_matching_nodes"
	ErrorManyMatchingNodes = "many_matching_nodes"
	ErrorInvalidPath       = "invalid_path"
	ErrorInvalidPattern    = "invalid_pattern"
	ErrorResourceLimit     = "resource_limit"
	ErrorInternal          = "internal"
)

// ErrorReply is the error half of a reply envelope.
type ErrorReply struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

func (e *ErrorReply) Error() string {
	if e.Detail == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Detail
}

// ApplyResponse is the reply envelope for mutations.
type ApplyResponse struct {
	Result tree.ResultMap `json:"result,omitempty"`
	Error  *ErrorReply    `json:"error,omitempty"`
}

func (r *ApplyResponse) GetResult() tree.ResultMap {
	if r == nil {
		return nil
	}
	return r.Result
}

func (r *ApplyResponse) GetError() *ErrorReply {
	if r == nil {
		return nil
	}
	return r.Error
}

// QueryResponse is the reply envelope for reads.
type QueryResponse struct {
	Result tree.ResultMap `json:"result,omitempty"`
	Error  *ErrorReply    `json:"error,omitempty"`
}

func (r *QueryResponse) GetResult() tree.ResultMap {
	if r == nil {
		return nil
	}
	return r.Result
}

func (r *QueryResponse) GetError() *ErrorReply {
	if r == nil {
		return nil
	}
	return r.Error
}

// NewPutCommand wraps a PutRequest into a log envelope.
func NewPutCommand(req *PutRequest) (*ApplyRequest, error) {
	sub, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal put request")
	}
	return &ApplyRequest{Type: CommandPut, SubCommand: sub}, nil
}

// NewDeleteCommand wraps a DeleteRequest into a log envelope.
func NewDeleteCommand(req *DeleteRequest) (*ApplyRequest, error) {
	sub, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal delete request")
	}
	return &ApplyRequest{Type: CommandDelete, SubCommand: sub}, nil
}
