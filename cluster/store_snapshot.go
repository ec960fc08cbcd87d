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

package cluster

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
)

// storeSnapshot carries the already-serialized machine state. Capturing
// the bytes eagerly keeps Snapshot cheap to persist and avoids holding
// the machine lock during sink I/O.
type storeSnapshot struct {
	data []byte
}

func (s *storeSnapshot) Persist(sink raft.SnapshotSink) error {
	defer sink.Close()
	if _, err := sink.Write(s.data); err != nil {
		return fmt.Errorf("write snapshot sink: %w", err)
	}
	return nil
}

func (s *storeSnapshot) Release() {
	// No-op, nothing to release
}

// Snapshot returns an FSMSnapshot used to: support log compaction, to
// restore the FSM to a previous state, or to bring out-of-date followers up
// to a recent log index.
//
// The machine's snapshot codec is deterministic, so snapshots taken at
// the same applied index are byte-identical on every replica.
func (st *Store) Snapshot() (raft.FSMSnapshot, error) {
	st.log.Info("persisting snapshot")

	var buf bytes.Buffer
	st.machineMu.RLock()
	err := st.machine.Snapshot(&buf)
	st.machineMu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("serialize machine state: %w", err)
	}
	return &storeSnapshot{data: buf.Bytes()}, nil
}

// Restore is used to restore an FSM from a snapshot. It is not called
// concurrently with any other command. The FSM must discard all previous
// state before restoring the snapshot.
func (st *Store) Restore(rc io.ReadCloser) error {
	st.log.Info("restoring tree from snapshot")
	defer func() {
		if err := rc.Close(); err != nil {
			st.log.WithError(err).Error("restore snapshot: close reader")
		}
	}()

	st.machineMu.Lock()
	err := st.machine.Restore(rc)
	st.machineMu.Unlock()
	if err != nil {
		// decode failures are fatal to this instance; raft decides how to
		// proceed
		st.log.WithError(err).Error("restoring tree from snapshot")
		return fmt.Errorf("restore tree from snapshot: %w", err)
	}

	st.log.Info("successfully restored tree from snapshot")
	return nil
}
