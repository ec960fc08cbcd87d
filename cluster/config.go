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
	"time"

	"github.com/sirupsen/logrus"
)

// Config collects everything the raft store needs at construction time.
type Config struct {
	// WorkDir is the raft working directory: log store and snapshots.
	WorkDir string
	NodeID  string
	Host    string
	// RaftPort is the TCP port of the raft transport.
	RaftPort int

	// BootstrapExpect is the number of notified candidates required before
	// this node bootstraps a fresh cluster. Zero disables bootstrapping
	// from this node.
	BootstrapExpect int

	HeartbeatTimeout  time.Duration
	ElectionTimeout   time.Duration
	SnapshotInterval  time.Duration
	SnapshotThreshold uint64

	// MaxResults caps the result map size of every command; zero uses the
	// state machine default.
	MaxResults int

	// Voter marks this node as partaking in elections.
	Voter bool

	Logger   *logrus.Logger
	LogLevel string
}
