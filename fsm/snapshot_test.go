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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/proto/api"
	"github.com/weaviate/arbor/tree"
)

func snapshotBytes(t *testing.T, m *Machine) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, m.Snapshot(&buf))
	return buf.Bytes()
}

// populate builds a state exercising every snapshot feature: payloads,
// payloadless intermediaries, binary ids, bumped counters and a keep-while
// table with several predicate kinds.
func populate(t *testing.T, m *Machine) {
	t.Helper()
	putData(t, m, "/stock/wood/oak", []byte("12"))
	putData(t, m, "/stock/wood/birch", []byte("41"))
	putData(t, m, "/stock/steel", nil)
	putData(t, m, "/stock/wood/oak", []byte("13")) // bump payload version

	req := &api.PutRequest{
		PathPattern: pattern.Path{pattern.Atom("blobs"), pattern.Binary([]byte{0x00, 0xff})}.Pattern(),
		Payload:     &api.Payload{Data: []byte{0xde, 0xad}},
	}
	_, err := m.Put(req)
	require.NoError(t, err)

	putKeepWhile(t, m, "/stock/wood", nil,
		kwCond("/stock/wood", pattern.ChildListCount(pattern.OpGt, 0)),
		kwCond("/stock", pattern.All(pattern.NodeExists(true), pattern.PayloadVersion(pattern.OpGe, 1))))
	putKeepWhile(t, m, "/blobs", nil,
		kwCond("/stock", pattern.AnyOf(pattern.DataMatches([]byte("x")), pattern.NameMatches("^st"))))
}

func TestSnapshotHeader(t *testing.T) {
	m := NewMachine(Config{})
	data := snapshotBytes(t, m)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("KPH1"), data[:4])
	assert.Equal(t, []byte{0, 0, 0, 1}, data[4:8])
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := NewMachine(Config{})
	populate(t, m)
	data := snapshotBytes(t, m)

	restored := NewMachine(Config{})
	require.NoError(t, restored.Restore(bytes.NewReader(data)))

	// bit-for-bit: encoding the restored state yields identical bytes
	assert.Equal(t, data, snapshotBytes(t, restored))

	// and the restored machine serves the same answers
	want := get(t, m, "/**", tree.Options{IncludeChildNames: true})
	got := get(t, restored, "/**", tree.Options{IncludeChildNames: true})
	assert.Equal(t, want, got)
	assert.Equal(t, m.Stats(), restored.Stats())
}

func TestSnapshotRestoredKeepWhileStillCascades(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/stock/wood/oak", []byte("1"))
	putKeepWhile(t, m, "/stock/wood", nil,
		kwCond("/stock/wood", pattern.ChildListCount(pattern.OpGt, 0)))

	restored := NewMachine(Config{})
	require.NoError(t, restored.Restore(bytes.NewReader(snapshotBytes(t, m))))

	del(t, restored, "/stock/wood/oak")
	assert.Empty(t, get(t, restored, "/stock/wood", tree.Options{}))
	require.Len(t, get(t, restored, "/stock", tree.Options{}), 1)
}

func TestSnapshotDeterministicAcrossInstances(t *testing.T) {
	a := NewMachine(Config{})
	b := NewMachine(Config{})
	populate(t, a)
	populate(t, b)
	assert.Equal(t, snapshotBytes(t, a), snapshotBytes(t, b))
}

func TestSnapshotEmptyRoundTrip(t *testing.T) {
	m := NewMachine(Config{})
	data := snapshotBytes(t, m)

	restored := NewMachine(Config{})
	require.NoError(t, restored.Restore(bytes.NewReader(data)))
	assert.Equal(t, data, snapshotBytes(t, restored))
	assert.Equal(t, 1, restored.Stats().Nodes)
}

func TestRestoreBadMagic(t *testing.T) {
	m := NewMachine(Config{})
	err := m.Restore(bytes.NewReader([]byte("NOPE\x00\x00\x00\x01")))
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestRestoreUnsupportedVersion(t *testing.T) {
	m := NewMachine(Config{})
	data := snapshotBytes(t, m)
	data[7] = 2
	err := m.Restore(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestRestoreTruncated(t *testing.T) {
	m := NewMachine(Config{})
	populate(t, m)
	data := snapshotBytes(t, m)

	for _, cut := range []int{5, 9, len(data) / 2, len(data) - 1} {
		err := NewMachine(Config{}).Restore(bytes.NewReader(data[:cut]))
		require.ErrorIs(t, err, ErrCorruptSnapshot, "cut at %d", cut)
	}
}

func TestRestoreTrailingBytes(t *testing.T) {
	m := NewMachine(Config{})
	data := append(snapshotBytes(t, m), 0xff)
	err := NewMachine(Config{}).Restore(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestRestoreFailureKeepsOldState(t *testing.T) {
	m := NewMachine(Config{})
	putData(t, m, "/a", []byte("v"))
	before := snapshotBytes(t, m)

	require.Error(t, m.Restore(bytes.NewReader([]byte("garbage"))))

	assert.Equal(t, before, snapshotBytes(t, m))
	require.Len(t, get(t, m, "/a", tree.Options{}), 1)
}
