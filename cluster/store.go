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

// Package cluster wraps the tree state machine in a hashicorp/raft node.
// The replicated log delivers commands serially to Apply; reads are
// served outside of the log against a consistent view of the state.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"
	raftbolt "github.com/hashicorp/raft-boltdb/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/arbor/cluster/log"
	"github.com/weaviate/arbor/fsm"
	"github.com/weaviate/arbor/proto/api"
	"github.com/weaviate/arbor/usecases/monitoring"
)

const (

	// tcpMaxPool controls how many connections we will pool
	tcpMaxPool = 3

	// tcpTimeout is used to apply I/O deadlines. For InstallSnapshot, we multiply
	// the timeout by (SnapshotSize / TimeoutScale).
	tcpTimeout = 10 * time.Second

	raftDBName = "raft.db"

	// logCacheCapacity is the maximum number of logs to cache in-memory.
	// This is used to reduce disk I/O for the recently committed entries.
	logCacheCapacity = 512

	nRetainedSnapShots = 3
)

var (
	// ErrNotLeader is returned when an operation can't be completed on a
	// follower or candidate node.
	ErrNotLeader      = errors.New("node is not the leader")
	ErrLeaderNotFound = errors.New("leader not found")
	ErrNotOpen        = errors.New("store not open")
)

// Store is the raft node around the tree state machine. It handles
// startup, bootstrap and snapshotting, and implements raft.FSM so the
// replication engine drives the machine directly.
type Store struct {
	raft         *raft.Raft
	open         atomic.Bool
	raftDir      string
	raftPort     int
	voter        bool
	applyTimeout time.Duration

	bootstrapExpect   int
	heartbeatTimeout  time.Duration
	electionTimeout   time.Duration
	snapshotInterval  time.Duration
	snapshotThreshold uint64

	nodeID   string
	host     string
	log      *logrus.Logger
	logLevel string

	bootstrapped  atomic.Bool
	logStore      *raftbolt.BoltStore
	transport     *raft.NetworkTransport
	snapshotStore *raft.FileSnapshotStore

	mutex      sync.Mutex
	candidates map[string]string

	// machineMu guards the machine: Apply/Restore take the write lock,
	// reads take the read lock and therefore always observe a fully
	// applied command, never a half-applied one.
	machineMu sync.RWMutex
	machine   *fsm.Machine
}

func New(cfg Config) Store {
	return Store{
		raftDir:           cfg.WorkDir,
		raftPort:          cfg.RaftPort,
		voter:             cfg.Voter,
		bootstrapExpect:   cfg.BootstrapExpect,
		candidates:        make(map[string]string, cfg.BootstrapExpect),
		heartbeatTimeout:  cfg.HeartbeatTimeout,
		electionTimeout:   cfg.ElectionTimeout,
		snapshotInterval:  cfg.SnapshotInterval,
		snapshotThreshold: cfg.SnapshotThreshold,
		applyTimeout:      time.Second * 20,
		nodeID:            cfg.NodeID,
		host:              cfg.Host,
		log:               cfg.Logger,
		logLevel:          cfg.LogLevel,
		machine:           fsm.NewMachine(fsm.Config{MaxResults: cfg.MaxResults}),
	}
}

func (st *Store) IsVoter() bool { return st.voter }
func (st *Store) ID() string    { return st.nodeID }

// Open opens this store and marks it as such. If there is any old state,
// such as snapshots and log entries, raft replays it into the machine on
// construction.
func (st *Store) Open(ctx context.Context) (err error) {
	if st.open.Load() { // store already opened
		return nil
	}
	defer func() { st.open.Store(err == nil) }()

	if err = os.MkdirAll(st.raftDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", st.raftDir, err)
	}

	// log store
	st.logStore, err = raftbolt.NewBoltStore(filepath.Join(st.raftDir, raftDBName))
	if err != nil {
		return fmt.Errorf("raft: bolt db: %w", err)
	}

	// log cache
	logCache, err := raft.NewLogCache(logCacheCapacity, st.logStore)
	if err != nil {
		return fmt.Errorf("raft: log cache: %w", err)
	}

	// file snapshot store
	st.snapshotStore, err = raft.NewFileSnapshotStore(st.raftDir, nRetainedSnapShots, os.Stdout)
	if err != nil {
		return fmt.Errorf("raft: file snapshot store: %w", err)
	}

	// tcp transport
	address := fmt.Sprintf("%s:%d", st.host, st.raftPort)
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return fmt.Errorf("net.ResolveTCPAddr address=%v: %w", address, err)
	}

	st.transport, err = raft.NewTCPTransport(address, tcpAddr, tcpMaxPool, tcpTimeout, os.Stdout)
	if err != nil {
		return fmt.Errorf("raft.NewTCPTransport address=%v tcpAddress=%v maxPool=%v timeOut=%v: %w",
			address, tcpAddr, tcpMaxPool, tcpTimeout, err)
	}

	st.log.WithFields(logrus.Fields{
		"address":    address,
		"tcpMaxPool": tcpMaxPool,
		"tcpTimeout": tcpTimeout,
	}).Info("raft tcp transport")

	st.log.Info("construct a new raft node")
	st.raft, err = raft.NewRaft(st.raftConfig(), st, logCache, st.logStore, st.snapshotStore, st.transport)
	if err != nil {
		return fmt.Errorf("raft.NewRaft %v %w", address, err)
	}

	st.log.WithFields(logrus.Fields{
		"raft_applied_index": st.raft.AppliedIndex(),
		"raft_last_index":    st.raft.LastIndex(),
	}).Info("raft node constructed")

	go func() {
		lastLeader := "Unknown"
		t := time.NewTicker(time.Second * 60)
		defer t.Stop()
		for range t.C {
			if !st.open.Load() {
				return
			}
			if leader := st.Leader(); leader != "" && leader != lastLeader {
				lastLeader = leader
				st.log.WithField("address", lastLeader).Info("current leader")
			}
		}
	}()

	return nil
}

func (st *Store) Close(ctx context.Context) error {
	if !st.open.Load() {
		return nil
	}

	// transfer leadership: it stops accepting client requests, ensures
	// the target server is up to date and initiates the transfer
	if st.IsLeader() {
		st.log.Info("transferring leadership to another server")
		if err := st.raft.LeadershipTransfer().Error(); err != nil {
			st.log.WithError(err).Error("transferring leadership")
		} else {
			st.log.Info("successfully transferred leadership to another server")
		}
	}

	if err := st.raft.Shutdown().Error(); err != nil {
		return err
	}

	st.open.Store(false)

	st.log.Info("closing raft-net ...")
	if err := st.transport.Close(); err != nil {
		// it's not that fatal if we weren't able to close
		// the transport, that's why just warn
		st.log.WithError(err).Warn("close raft-net")
	}

	st.log.Info("closing log store ...")
	if err := st.logStore.Close(); err != nil {
		return fmt.Errorf("close log store: %w", err)
	}

	return nil
}

func (st *Store) Ready() bool {
	return st.open.Load() && st.Leader() != ""
}

// IsLeader returns whether this node is the leader of the cluster
func (st *Store) IsLeader() bool {
	return st.raft != nil && st.raft.State() == raft.Leader
}

// Leader is used to return the current leader address.
// It may return empty strings if there is no current leader or the leader is unknown.
func (st *Store) Leader() string {
	if st.raft == nil {
		return ""
	}
	add, _ := st.raft.LeaderWithID()
	return string(add)
}

func (st *Store) LeaderWithID() (raft.ServerAddress, raft.ServerID) {
	if st.raft == nil {
		return "", ""
	}
	return st.raft.LeaderWithID()
}

// Execute appends a command to the replicated log and waits for it to be
// applied locally, returning the machine's reply. It must run on the
// leader.
func (st *Store) Execute(req *api.ApplyRequest) (*api.ApplyResponse, error) {
	if !st.open.Load() {
		return nil, ErrNotOpen
	}
	st.log.WithField("type", req.Type.String()).Debug("server.execute")

	cmdBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	fut := st.raft.Apply(cmdBytes, st.applyTimeout)
	if err := fut.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return nil, ErrNotLeader
		}
		return nil, err
	}
	resp := fut.Response().(*fsm.Response)
	return resp.Wire(), nil
}

// Query serves a read-only match against a consistent view of the state.
// Reads never enter the replicated log; they linearize against writes at
// the lock boundary.
func (st *Store) Query(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error) {
	if !st.open.Load() {
		return nil, ErrNotOpen
	}

	begin := time.Now()
	st.machineMu.RLock()
	result, err := st.machine.Get(req)
	st.machineMu.RUnlock()
	monitoring.ObserveQuery(time.Since(begin), err)

	return &api.QueryResponse{Result: result, Error: fsm.ReplyError(err)}, nil
}

// Apply log is invoked once a log entry is committed.
// It returns a value which will be made available in the
// ApplyFuture returned by Raft.Apply method if that
// method was called on the same Raft node as the FSM.
func (st *Store) Apply(l *raft.Log) interface{} {
	st.log.WithFields(logrus.Fields{"type": l.Type, "index": l.Index}).Debug("apply command")
	if l.Type != raft.LogCommand {
		st.log.WithFields(logrus.Fields{"type": l.Type, "index": l.Index}).Info("not a valid command")
		return &fsm.Response{}
	}
	cmd := api.ApplyRequest{}
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		st.log.WithError(err).Error("decode command")
		panic("error json un-marshalling log data")
	}

	begin := time.Now()
	st.machineMu.Lock()
	ret := st.machine.Apply(&cmd)
	stats := st.machine.Stats()
	st.machineMu.Unlock()

	monitoring.ObserveApply(cmd.Type.String(), time.Since(begin), ret.Error)
	monitoring.SetMachineSize(stats.Nodes, stats.KeepWhileEntries)

	if ret.Error != nil {
		st.log.WithError(ret.Error).WithFields(logrus.Fields{
			"type":  cmd.Type.String(),
			"index": l.Index,
		}).Debug("command rejected")
	}
	return ret
}

// Join adds the given peer to the cluster.
// This operation must be executed on the leader, otherwise, it will fail with ErrNotLeader.
// If the cluster has not been opened yet, it will return ErrNotOpen.
func (st *Store) Join(id, addr string, voter bool) error {
	if !st.open.Load() {
		return ErrNotOpen
	}
	if st.raft.State() != raft.Leader {
		return ErrNotLeader
	}

	rID, rAddr := raft.ServerID(id), raft.ServerAddress(addr)

	if !voter {
		return st.assertFuture(st.raft.AddNonvoter(rID, rAddr, 0, 0))
	}
	return st.assertFuture(st.raft.AddVoter(rID, rAddr, 0, 0))
}

// Remove removes this peer from the cluster
func (st *Store) Remove(id string) error {
	if !st.open.Load() {
		return ErrNotOpen
	}
	if st.raft.State() != raft.Leader {
		return ErrNotLeader
	}
	return st.assertFuture(st.raft.RemoveServer(raft.ServerID(id), 0, 0))
}

// Notify signals this Store that a node is ready for bootstrapping at the
// specified address. Bootstrapping will be initiated once the number of
// known nodes reaches the expected level, which includes this node.
func (st *Store) Notify(id, addr string) (err error) {
	if !st.open.Load() {
		return ErrNotOpen
	}
	// peer is not voter or already bootstrapped or belong to an existing cluster
	if !st.voter || st.bootstrapExpect == 0 || st.bootstrapped.Load() || st.Leader() != "" {
		return nil
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()

	st.candidates[id] = addr
	if len(st.candidates) < st.bootstrapExpect {
		st.log.WithFields(logrus.Fields{
			"expect": st.bootstrapExpect,
			"got":    st.candidates,
		}).Debug("number of candidates")
		return nil
	}
	candidates := make([]raft.Server, 0, len(st.candidates))
	for id, addr := range st.candidates {
		candidates = append(candidates, raft.Server{
			Suffrage: raft.Voter,
			ID:       raft.ServerID(id),
			Address:  raft.ServerAddress(addr),
		})
		delete(st.candidates, id)
	}

	st.log.WithField("candidates", candidates).Info("starting cluster bootstrapping")

	fut := st.raft.BootstrapCluster(raft.Configuration{Servers: candidates})
	if err := fut.Error(); err != nil {
		st.log.WithError(err).Error("bootstrapping cluster")
		return err
	}
	st.bootstrapped.Store(true)
	return nil
}

// Stats returns internal statistics from this store, for
// informational/debugging purposes only.
func (st *Store) Stats() map[string]any {
	stats := make(map[string]any)

	currentLeaderAddress, currentLeaderID := st.LeaderWithID()
	stats["id"] = st.nodeID
	stats["leader_address"] = currentLeaderAddress
	stats["leader_id"] = currentLeaderID
	stats["ready"] = st.Ready()
	stats["is_voter"] = st.IsVoter()
	stats["open"] = st.open.Load()
	stats["bootstrapped"] = st.bootstrapped.Load()

	st.machineMu.RLock()
	machineStats := st.machine.Stats()
	st.machineMu.RUnlock()
	stats["tree_nodes"] = machineStats.Nodes
	stats["keep_while_entries"] = machineStats.KeepWhileEntries

	if st.raft != nil {
		stats["raft"] = st.raft.Stats()
	}
	return stats
}

func (st *Store) assertFuture(fut raft.IndexFuture) error {
	if err := fut.Error(); err != nil && errors.Is(err, raft.ErrNotLeader) {
		return ErrNotLeader
	} else {
		return err
	}
}

func (st *Store) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	if st.heartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = st.heartbeatTimeout
	}
	if st.electionTimeout > 0 {
		cfg.ElectionTimeout = st.electionTimeout
	}
	if st.snapshotInterval > 0 {
		cfg.SnapshotInterval = st.snapshotInterval
	}
	if st.snapshotThreshold > 0 {
		cfg.SnapshotThreshold = st.snapshotThreshold
	}

	cfg.LocalID = raft.ServerID(st.nodeID)
	cfg.LogLevel = st.logLevel
	cfg.Logger = log.NewHCLogrusLogger("raft", st.log)
	return cfg
}

var _ raft.FSM = &Store{}
