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

package log

import (
	"bytes"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func Test_hclogger(t *testing.T) {
	buf := bytes.Buffer{}

	r := logrus.New()
	r.SetOutput(&buf)

	v := NewHCLogrusLogger("raft", r)

	v.Warn("entering candidate state")
	assert.Contains(t, buf.String(), "entering candidate state")
	assert.Contains(t, buf.String(), "component=raft")
	buf.Reset()

	v.Error("failed to contact quorum", "peer", "node2", "term", 7)
	assert.Contains(t, buf.String(), "failed to contact quorum")
	assert.Contains(t, buf.String(), "peer=node2")
	assert.Contains(t, buf.String(), "term=7")
	buf.Reset()

	// args passed to one call must not leak into the next one
	v.Warn("entering candidate state")
	assert.NotContains(t, buf.String(), "peer=node2")
	buf.Reset()

	// With returns a child carrying the extra fields; the parent stays as is
	child := v.With("snapshot-index", 42)
	child.Info("starting snapshot restore")
	assert.Contains(t, buf.String(), "snapshot-index=42")
	buf.Reset()

	v.Info("tick")
	assert.NotContains(t, buf.String(), "snapshot-index=42")
	buf.Reset()
}

func Test_hcloggerLevels(t *testing.T) {
	buf := bytes.Buffer{}

	r := logrus.New()
	r.SetOutput(&buf)
	r.SetLevel(logrus.WarnLevel)

	v := NewHCLogrusLogger("raft", r)

	assert.False(t, v.IsDebug())
	assert.True(t, v.IsWarn())
	assert.Equal(t, hclog.Warn, v.GetLevel())

	v.Debug("verbose noise")
	assert.Empty(t, buf.String())

	v.SetLevel(hclog.Debug)
	v.Debug("verbose noise")
	assert.Contains(t, buf.String(), "verbose noise")
}
