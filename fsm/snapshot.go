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
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/tree"
)

// Snapshot format: magic "KPH1", big-endian u32 format version, the tree
// in pre-order with children in insertion order, then the keep-while
// table sorted by watcher path. All counters and lengths are unsigned
// varints. The encoding round-trips bit for bit: encoding a restored
// snapshot yields the identical bytes.
const (
	snapshotMagic   = "KPH1"
	snapshotVersion = uint32(1)

	payloadTagNone = 0
	payloadTagData = 1

	idTagAtom   = 0
	idTagBinary = 1
)

// Condition wire tags equal the pattern.ConditionKind values, which
// follow the fixed predicate list. They are frozen: renumbering the kinds
// breaks stored snapshots.

// Snapshot serializes the full machine state.
func (m *Machine) Snapshot(w io.Writer) error {
	enc := &snapEncoder{}
	enc.raw([]byte(snapshotMagic))
	enc.u32be(snapshotVersion)
	enc.node(m.root)

	entries := m.kw.sortedEntries()
	enc.u32be(uint32(len(entries)))
	for _, entry := range entries {
		enc.path(entry.path)
		enc.uvarint(uint64(len(entry.conds)))
		for i := range entry.conds {
			enc.path(entry.conds[i].path)
			enc.cond(&entry.conds[i].cond)
		}
	}

	_, err := w.Write(enc.buf)
	return errors.Wrap(err, "write snapshot")
}

// Restore replaces the machine state with the snapshot's. Decode failures
// are fatal to the instance: the previous state is only discarded once
// the snapshot has been fully decoded.
func (m *Machine) Restore(r io.Reader) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "read snapshot")
	}
	dec := &snapDecoder{buf: buf}

	magic, err := dec.take(len(snapshotMagic))
	if err != nil {
		return err
	}
	if string(magic) != snapshotMagic {
		return errors.Wrapf(ErrCorruptSnapshot, "bad magic %q", magic)
	}
	version, err := dec.u32be()
	if err != nil {
		return err
	}
	if version != snapshotVersion {
		return errors.Wrapf(ErrUnsupportedVersion, "snapshot version %d", version)
	}

	root, err := dec.node()
	if err != nil {
		return err
	}

	kw := newKeepWhileTable()
	count, err := dec.u32be()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		watcher, err := dec.path()
		if err != nil {
			return err
		}
		n, err := dec.uvarint()
		if err != nil {
			return err
		}
		entry := &watcherEntry{path: watcher}
		key := watcher.Key()
		for j := uint64(0); j < n; j++ {
			watched, err := dec.path()
			if err != nil {
				return err
			}
			cond, err := dec.cond()
			if err != nil {
				return err
			}
			entry.conds = append(entry.conds, watchedCond{path: watched, cond: cond})
			wk := watched.Key()
			if kw.reverse[wk] == nil {
				kw.reverse[wk] = make(map[string]struct{})
			}
			kw.reverse[wk][key] = struct{}{}
		}
		kw.watchers[key] = entry
	}
	if dec.off != len(dec.buf) {
		return errors.Wrapf(ErrCorruptSnapshot, "%d trailing bytes", len(dec.buf)-dec.off)
	}

	m.root = root
	m.kw = kw
	return nil
}

type snapEncoder struct {
	buf []byte
}

func (e *snapEncoder) raw(b []byte) { e.buf = append(e.buf, b...) }

func (e *snapEncoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *snapEncoder) u32be(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *snapEncoder) uvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *snapEncoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *snapEncoder) bool(v bool) {
	if v {
		e.byte(1)
	} else {
		e.byte(0)
	}
}

func (e *snapEncoder) id(id pattern.NodeID) {
	if id.Kind == pattern.IDAtom {
		e.byte(idTagAtom)
		e.bytes([]byte(id.Atom))
	} else {
		e.byte(idTagBinary)
		e.bytes(id.Bytes)
	}
}

func (e *snapEncoder) path(p pattern.Path) {
	e.uvarint(uint64(len(p)))
	for _, id := range p {
		e.id(id)
	}
}

func (e *snapEncoder) node(n *tree.Node) {
	if data, ok := n.Data(); ok {
		e.byte(payloadTagData)
		e.bytes(data)
	} else {
		e.byte(payloadTagNone)
	}
	e.uvarint(n.PayloadVersion())
	e.uvarint(n.ChildListVersion())
	e.uvarint(n.ChildListCount())
	n.EachChild(func(id pattern.NodeID, child *tree.Node) error {
		e.id(id)
		e.node(child)
		return nil
	})
}

func (e *snapEncoder) cond(c *pattern.Condition) {
	e.byte(byte(c.Kind))
	switch c.Kind {
	case pattern.CondNameMatches, pattern.CondPathMatches:
		e.bool(c.Any)
		e.bytes([]byte(c.Regex))
	case pattern.CondDataMatches:
		e.bytes(c.Data)
	case pattern.CondChildListCount, pattern.CondChildListVersion, pattern.CondPayloadVersion:
		e.byte(byte(c.Op))
		e.uvarint(c.Value)
	case pattern.CondAll, pattern.CondAny:
		e.uvarint(uint64(len(c.Conds)))
		for i := range c.Conds {
			e.cond(&c.Conds[i])
		}
	case pattern.CondID:
		e.id(c.ID)
	case pattern.CondNodeExists:
		e.bool(c.Exists)
	}
}

type snapDecoder struct {
	buf []byte
	off int
}

func (d *snapDecoder) take(n int) ([]byte, error) {
	if d.off+n > len(d.buf) {
		return nil, errors.Wrap(ErrCorruptSnapshot, "unexpected end of snapshot")
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *snapDecoder) byte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *snapDecoder) u32be() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *snapDecoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		return 0, errors.Wrap(ErrCorruptSnapshot, "invalid uvarint")
	}
	d.off += n
	return v, nil
}

func (d *snapDecoder) bytes() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(d.buf)-d.off) {
		return nil, errors.Wrap(ErrCorruptSnapshot, "length prefix past end of snapshot")
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *snapDecoder) bool() (bool, error) {
	b, err := d.byte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.Wrapf(ErrCorruptSnapshot, "invalid bool tag %d", b)
}

func (d *snapDecoder) id() (pattern.NodeID, error) {
	tag, err := d.byte()
	if err != nil {
		return pattern.NodeID{}, err
	}
	content, err := d.bytes()
	if err != nil {
		return pattern.NodeID{}, err
	}
	switch tag {
	case idTagAtom:
		return pattern.Atom(string(content)), nil
	case idTagBinary:
		return pattern.Binary(content), nil
	}
	return pattern.NodeID{}, errors.Wrapf(ErrCorruptSnapshot, "invalid id tag %d", tag)
}

func (d *snapDecoder) path() (pattern.Path, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	out := make(pattern.Path, 0, n)
	for i := uint64(0); i < n; i++ {
		id, err := d.id()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (d *snapDecoder) node() (*tree.Node, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	var data []byte
	hasData := false
	switch tag {
	case payloadTagNone:
	case payloadTagData:
		if data, err = d.bytes(); err != nil {
			return nil, err
		}
		hasData = true
	default:
		return nil, errors.Wrapf(ErrCorruptSnapshot, "invalid payload tag %d", tag)
	}

	payloadVersion, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	childListVersion, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	childCount, err := d.uvarint()
	if err != nil {
		return nil, err
	}

	node := tree.RestoreNode(data, hasData, payloadVersion, childListVersion)
	for i := uint64(0); i < childCount; i++ {
		id, err := d.id()
		if err != nil {
			return nil, err
		}
		child, err := d.node()
		if err != nil {
			return nil, err
		}
		node.InitChild(id, child)
	}
	return node, nil
}

func (d *snapDecoder) cond() (pattern.Condition, error) {
	tag, err := d.byte()
	if err != nil {
		return pattern.Condition{}, err
	}
	c := pattern.Condition{Kind: pattern.ConditionKind(tag)}
	switch c.Kind {
	case pattern.CondNameMatches, pattern.CondPathMatches:
		if c.Any, err = d.bool(); err != nil {
			return c, err
		}
		regex, err := d.bytes()
		if err != nil {
			return c, err
		}
		c.Regex = string(regex)
	case pattern.CondDataMatches:
		if c.Data, err = d.bytes(); err != nil {
			return c, err
		}
	case pattern.CondChildListCount, pattern.CondChildListVersion, pattern.CondPayloadVersion:
		op, err := d.byte()
		if err != nil {
			return c, err
		}
		c.Op = pattern.CompareOp(op)
		if c.Value, err = d.uvarint(); err != nil {
			return c, err
		}
	case pattern.CondAll, pattern.CondAny:
		n, err := d.uvarint()
		if err != nil {
			return c, err
		}
		for i := uint64(0); i < n; i++ {
			sub, err := d.cond()
			if err != nil {
				return c, err
			}
			c.Conds = append(c.Conds, sub)
		}
	case pattern.CondID:
		if c.ID, err = d.id(); err != nil {
			return c, err
		}
	case pattern.CondNodeExists:
		if c.Exists, err = d.bool(); err != nil {
			return c, err
		}
	default:
		return c, errors.Wrapf(ErrCorruptSnapshot, "invalid condition tag %d", tag)
	}
	return c, nil
}
