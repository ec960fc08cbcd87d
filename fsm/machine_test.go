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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/proto/api"
	"github.com/weaviate/arbor/tree"
)

func mustPath(t *testing.T, s string) pattern.Path {
	t.Helper()
	path, err := pattern.ParsePath(s)
	require.NoError(t, err)
	return path
}

func putData(t *testing.T, m *Machine, path string, data []byte) tree.ResultMap {
	t.Helper()
	req := &api.PutRequest{PathPattern: pattern.ParsePattern(path)}
	if data != nil {
		req.Payload = &api.Payload{Data: data}
	}
	result, err := m.Put(req)
	require.NoError(t, err)
	return result
}

func get(t *testing.T, m *Machine, path string, opts tree.Options) tree.ResultMap {
	t.Helper()
	result, err := m.Get(&api.QueryRequest{PathPattern: pattern.ParsePattern(path), Options: opts})
	require.NoError(t, err)
	return result
}

func del(t *testing.T, m *Machine, path string) tree.ResultMap {
	t.Helper()
	result, err := m.Delete(&api.DeleteRequest{PathPattern: pattern.ParsePattern(path)})
	require.NoError(t, err)
	return result
}

func TestGetEmptyStore(t *testing.T) {
	m := NewMachine(Config{})
	result := get(t, m, "/foo", tree.Options{})
	assert.Empty(t, result)
}

func TestPutCreatesIntermediaries(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/foo/bar", []byte("value"))

	result := get(t, m, "/foo", tree.Options{})
	require.Len(t, result, 1)
	props := result[0].Props
	assert.Equal(t, uint64(1), props.PayloadVersion)
	assert.Equal(t, uint64(1), props.ChildListVersion)
	assert.Equal(t, uint64(1), props.ChildListCount)
	assert.False(t, props.HasData)

	result = get(t, m, "/foo/bar", tree.Options{})
	require.Len(t, result, 1)
	props = result[0].Props
	assert.Equal(t, []byte("value"), props.Data)
	assert.True(t, props.HasData)
	assert.Equal(t, uint64(1), props.PayloadVersion)
	assert.Equal(t, uint64(1), props.ChildListVersion)
	assert.Equal(t, uint64(0), props.ChildListCount)
}

func TestPutSiblingBumpsChildListOnce(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/foo/bar", []byte("bar_value"))
	putData(t, m, "/foo/quux", []byte("quux_value"))

	result := get(t, m, "/foo", tree.Options{IncludeChildNames: true})
	require.Len(t, result, 1)
	props := result[0].Props
	assert.Equal(t, uint64(1), props.PayloadVersion)
	assert.Equal(t, uint64(2), props.ChildListVersion)
	assert.Equal(t, uint64(2), props.ChildListCount)
	assert.Equal(t, []pattern.NodeID{pattern.Atom("bar"), pattern.Atom("quux")}, props.ChildNames)
}

func TestPathMatchesThenNameMatches(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/foo/bar", []byte("bar_value"))
	putData(t, m, "/foo/youpi", []byte("youpi_value"))
	putData(t, m, "/baz", []byte("baz_value"))
	putData(t, m, "/baz/pouet", []byte("pouet_value"))

	// any run of components, then a name containing "o": the run consumes
	// at least one component, so /foo itself must not appear
	pat := pattern.Pattern{
		pattern.ComponentCond(pattern.AnyPath()),
		pattern.ComponentCond(pattern.NameMatches("o")),
	}
	result, err := m.Get(&api.QueryRequest{PathPattern: pat})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.True(t, result[0].Path.Equal(mustPath(t, "/baz/pouet")))
	assert.Equal(t, []byte("pouet_value"), result[0].Props.Data)
	assert.True(t, result[1].Path.Equal(mustPath(t, "/foo/youpi")))
	assert.Equal(t, []byte("youpi_value"), result[1].Props.Data)
}

func TestPutReturnsPriorProjection(t *testing.T) {
	m := NewMachine(Config{})

	// creation reports the empty prior projection
	result := putData(t, m, "/a", []byte("v1"))
	require.Len(t, result, 1)
	assert.True(t, result[0].Props.IsZero())

	// overwrite reports the node as it was before the write
	result = putData(t, m, "/a", []byte("v2"))
	require.Len(t, result, 1)
	assert.Equal(t, uint64(1), result[0].Props.PayloadVersion)
	assert.Equal(t, []byte("v1"), result[0].Props.Data)

	result = get(t, m, "/a", tree.Options{})
	require.Len(t, result, 1)
	assert.Equal(t, uint64(2), result[0].Props.PayloadVersion)
	assert.Equal(t, []byte("v2"), result[0].Props.Data)
}

func TestPutAlwaysBumpsOnSameValue(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a", []byte("v"))
	putData(t, m, "/a", []byte("v"))

	result := get(t, m, "/a", tree.Options{})
	require.Len(t, result, 1)
	assert.Equal(t, uint64(2), result[0].Props.PayloadVersion)
}

func TestPutNonePayload(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a", []byte("v"))

	// clearing bumps
	putData(t, m, "/a", nil)
	result := get(t, m, "/a", tree.Options{})
	require.Len(t, result, 1)
	assert.False(t, result[0].Props.HasData)
	assert.Equal(t, uint64(2), result[0].Props.PayloadVersion)

	// clearing an already payloadless node is a no-op
	putData(t, m, "/a", nil)
	result = get(t, m, "/a", tree.Options{})
	assert.Equal(t, uint64(2), result[0].Props.PayloadVersion)
}

func TestPutPatternWritesAllMatches(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/stock/wood", []byte("w"))
	putData(t, m, "/stock/steel", []byte("s"))

	result := putData(t, m, "/stock/*", []byte("tagged"))
	require.Len(t, result, 2)
	// the reply carries prior projections
	assert.Equal(t, []byte("s"), result[0].Props.Data)
	assert.Equal(t, []byte("w"), result[1].Props.Data)

	for _, path := range []string{"/stock/wood", "/stock/steel"} {
		got := get(t, m, path, tree.Options{})
		require.Len(t, got, 1)
		assert.Equal(t, []byte("tagged"), got[0].Props.Data)
		assert.Equal(t, uint64(2), got[0].Props.PayloadVersion)
	}
}

func TestPutPatternNeverCreates(t *testing.T) {
	m := NewMachine(Config{})
	result := putData(t, m, "/missing/*", []byte("v"))
	assert.Empty(t, result)
	assert.Equal(t, 1, m.Stats().Nodes)
}

func TestDeleteKeepsIntermediaries(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/foo/bar", []byte("v"))
	del(t, m, "/foo/bar")

	assert.Empty(t, get(t, m, "/foo/bar", tree.Options{}))

	result := get(t, m, "/foo", tree.Options{})
	require.Len(t, result, 1)
	assert.Equal(t, uint64(0), result[0].Props.ChildListCount)
	assert.Equal(t, uint64(2), result[0].Props.ChildListVersion)
}

func TestDeleteSubtree(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a/b/c", []byte("v"))
	putData(t, m, "/a/b/d", []byte("v"))

	result := del(t, m, "/a/b")
	require.Len(t, result, 1)

	assert.Empty(t, get(t, m, "/a/b", tree.Options{}))
	assert.Empty(t, get(t, m, "/a/b/c", tree.Options{}))
	assert.Equal(t, 2, m.Stats().Nodes) // root and /a
}

func TestDeletePattern(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a/x", []byte("v"))
	putData(t, m, "/b/x", []byte("v"))
	putData(t, m, "/b/y", []byte("v"))

	result := del(t, m, "/*/x")
	require.Len(t, result, 2)
	assert.True(t, result[0].Path.Equal(mustPath(t, "/a/x")))
	assert.True(t, result[1].Path.Equal(mustPath(t, "/b/x")))

	assert.Empty(t, get(t, m, "/a/x", tree.Options{}))
	require.Len(t, get(t, m, "/b/y", tree.Options{}), 1)
}

func TestDeleteRootClearsChildrenOnly(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a", []byte("v"))
	putData(t, m, "/b", []byte("v"))

	del(t, m, "/")
	assert.Equal(t, 1, m.Stats().Nodes)

	// the surviving root keeps serving
	putData(t, m, "/c", []byte("v"))
	require.Len(t, get(t, m, "/c", tree.Options{}), 1)
}

func TestDeleteMatchNothing(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a", []byte("v"))
	result := del(t, m, "/missing")
	assert.Empty(t, result)
	assert.Equal(t, 2, m.Stats().Nodes)
}

func TestGetIsPure(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a/b", []byte("v"))

	before := snapshotBytes(t, m)
	for i := 0; i < 3; i++ {
		get(t, m, "/**", tree.Options{IncludeChildNames: true})
	}
	assert.Equal(t, before, snapshotBytes(t, m))
}

func TestVersionsNeverDecrease(t *testing.T) {
	m := NewMachine(Config{})
	var lastPayload, lastChildList uint64

	observe := func() {
		result := get(t, m, "/a", tree.Options{})
		require.Len(t, result, 1)
		assert.GreaterOrEqual(t, result[0].Props.PayloadVersion, lastPayload)
		assert.GreaterOrEqual(t, result[0].Props.ChildListVersion, lastChildList)
		lastPayload = result[0].Props.PayloadVersion
		lastChildList = result[0].Props.ChildListVersion
	}

	putData(t, m, "/a", []byte("v"))
	observe()
	putData(t, m, "/a/b", []byte("v"))
	observe()
	putData(t, m, "/a", []byte("v"))
	observe()
	del(t, m, "/a/b")
	observe()
	putData(t, m, "/a", nil)
	observe()
}

func TestChildListCountMatchesChildren(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a/b", []byte("v"))
	putData(t, m, "/a/c", []byte("v"))
	putData(t, m, "/d", []byte("v"))
	del(t, m, "/a/b")

	result := get(t, m, "/**", tree.Options{IncludeChildNames: true})
	for _, entry := range result {
		assert.Equal(t, uint64(len(entry.Props.ChildNames)), entry.Props.ChildListCount,
			"node %s", entry.Path)
	}
}

func TestApplyEnvelope(t *testing.T) {
	m := NewMachine(Config{})

	cmd, err := api.NewPutCommand(&api.PutRequest{
		PathPattern: pattern.ParsePattern("/foo/bar"),
		Payload:     &api.Payload{Data: []byte("value")},
	})
	require.NoError(t, err)

	resp := m.Apply(cmd)
	require.NoError(t, resp.Error)
	require.Len(t, resp.Result, 1)

	cmd, err = api.NewDeleteCommand(&api.DeleteRequest{PathPattern: pattern.ParsePattern("/foo/bar")})
	require.NoError(t, err)
	resp = m.Apply(cmd)
	require.NoError(t, resp.Error)
	assert.Empty(t, get(t, m, "/foo/bar", tree.Options{}))
}

func TestApplyUnknownCommand(t *testing.T) {
	m := NewMachine(Config{})
	resp := m.Apply(&api.ApplyRequest{Type: api.CommandType(42)})
	require.Error(t, resp.Error)

	wire := resp.Wire()
	require.NotNil(t, wire.Error)
	assert.Equal(t, api.ErrorInternal, wire.Error.Kind)
}

func TestApplyMalformedSubCommand(t *testing.T) {
	m := NewMachine(Config{})
	resp := m.Apply(&api.ApplyRequest{Type: api.CommandPut, SubCommand: []byte("{not json")})
	require.Error(t, resp.Error)
}

func TestPutAboveRoot(t *testing.T) {
	m := NewMachine(Config{})
	_, err := m.Put(&api.PutRequest{PathPattern: pattern.ParsePattern("/..")})
	require.ErrorIs(t, err, pattern.ErrAboveRoot)
	assert.Equal(t, api.ErrorInvalidPath, ErrorKindOf(err))
}

func TestGetResourceLimit(t *testing.T) {
	m := NewMachine(Config{MaxResults: 2})
	putData(t, m, "/a", []byte("v"))
	putData(t, m, "/b", []byte("v"))
	putData(t, m, "/c", []byte("v"))

	_, err := m.Get(&api.QueryRequest{PathPattern: pattern.ParsePattern("/*")})
	require.ErrorIs(t, err, tree.ErrTooManyResults)
	assert.Equal(t, api.ErrorResourceLimit, ErrorKindOf(err))

	// clients cannot raise the cap above the machine's
	_, err = m.Get(&api.QueryRequest{
		PathPattern: pattern.ParsePattern("/*"),
		Options:     tree.Options{MaxResults: 100},
	})
	require.ErrorIs(t, err, tree.ErrTooManyResults)
}

func TestGetExpectSpecificNode(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a", []byte("v"))
	putData(t, m, "/b", []byte("v"))

	_, err := m.Get(&api.QueryRequest{
		PathPattern: pattern.ParsePattern("/*"),
		Options:     tree.Options{ExpectSpecificNode: true},
	})
	require.ErrorIs(t, err, tree.ErrManyMatchingNodes)
	assert.Equal(t, api.ErrorManyMatchingNodes, ErrorKindOf(err))

	_, err = m.Get(&api.QueryRequest{
		PathPattern: pattern.ParsePattern("/missing"),
		Options:     tree.Options{ExpectSpecificNode: true},
	})
	require.ErrorIs(t, err, tree.ErrNoMatchingNodes)
	assert.Equal(t, api.ErrorNoMatchingNodes, ErrorKindOf(err))
}

func TestReplayedMachineMatchesLive(t *testing.T) {
	commands := []*api.ApplyRequest{}
	addPut := func(path, value string) {
		cmd, err := api.NewPutCommand(&api.PutRequest{
			PathPattern: pattern.ParsePattern(path),
			Payload:     &api.Payload{Data: []byte(value)},
		})
		require.NoError(t, err)
		commands = append(commands, cmd)
	}
	addPut("/stock/wood/oak", "12")
	addPut("/stock/wood/birch", "41")
	addPut("/stock/steel", "3")

	live := NewMachine(Config{})
	for _, cmd := range commands {
		require.NoError(t, live.Apply(cmd).Error)
	}
	replayed := NewMachine(Config{Commands: commands})

	assert.Equal(t, snapshotBytes(t, live), snapshotBytes(t, replayed))
}
