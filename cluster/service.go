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
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/arbor/pattern"
	"github.com/weaviate/arbor/proto/api"
	"github.com/weaviate/arbor/tree"
)

// Service abstracts the raft store behind write and read operations on
// the tree. Writes are retried with a constant backoff while an election
// is in flight, so a briefly leaderless window does not bubble up to
// every caller.
type Service struct {
	store *Store
	log   logrus.FieldLogger
}

func NewService(store *Store) *Service {
	return &Service{store: store, log: store.log}
}

func (s *Service) Open(ctx context.Context) error {
	s.log.Info("starting raft sub-system ...")
	return s.store.Open(ctx)
}

func (s *Service) Close(ctx context.Context) error {
	s.log.Info("shutting down raft sub-system ...")

	// non-voter can be safely removed, as they don't partake in RAFT elections
	if !s.store.IsVoter() {
		s.log.Info("removing this node from cluster prior to shutdown ...")
		if err := s.store.Remove(s.store.ID()); err != nil {
			s.log.WithError(err).Error("remove this node from cluster")
		} else {
			s.log.Info("successfully removed this node from the cluster.")
		}
	}
	return s.store.Close(ctx)
}

func (s *Service) Ready() bool { return s.store.Ready() }

func (s *Service) Stats() map[string]any { return s.store.Stats() }

// Put writes a payload under a path pattern, optionally installing a
// keep-while map for the target.
func (s *Service) Put(pat pattern.Pattern, payload *api.Payload, keepWhile []api.KeepWhileCondition) (*api.ApplyResponse, error) {
	cmd, err := api.NewPutCommand(&api.PutRequest{
		PathPattern: pat,
		Payload:     payload,
		KeepWhile:   keepWhile,
	})
	if err != nil {
		return nil, err
	}
	return s.execute(cmd)
}

// Delete removes all nodes matched by the pattern.
func (s *Service) Delete(pat pattern.Pattern) (*api.ApplyResponse, error) {
	cmd, err := api.NewDeleteCommand(&api.DeleteRequest{PathPattern: pat})
	if err != nil {
		return nil, err
	}
	return s.execute(cmd)
}

// Get runs a read-only match against the local state.
func (s *Service) Get(ctx context.Context, pat pattern.Pattern, opts tree.Options) (*api.QueryResponse, error) {
	return s.store.Query(ctx, &api.QueryRequest{PathPattern: pat, Options: opts})
}

func (s *Service) execute(cmd *api.ApplyRequest) (*api.ApplyResponse, error) {
	var resp *api.ApplyResponse
	operation := func() error {
		var err error
		resp, err = s.store.Execute(cmd)
		if errors.Is(err, ErrNotLeader) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	err := backoff.Retry(operation, constantBackoff(5, 100*time.Millisecond))
	return resp, err
}

// constantBackoff is the retry policy used while leadership settles.
func constantBackoff(maxRetry int, interval time.Duration) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxRetry))
}
