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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/arbor/cluster"
)

// Options represents command line options
type Options struct {
	NodeID   string `long:"node-id" description:"unique raft identifier of this node" default:"node1"`
	Host     string `long:"host" description:"host other cluster members reach this node at" default:"localhost"`
	RaftPort int    `long:"raft.port" description:"TCP port of the raft transport" default:"8300"`
	HTTPAddr string `long:"http.listen" description:"address the HTTP API listens at" default:"0.0.0.0:8080"`
	DataDir  string `long:"data-dir" description:"directory holding the raft log and snapshots" default:"./data"`

	BootstrapExpect int  `long:"bootstrap-expect" description:"number of candidates expected before bootstrapping a fresh cluster" default:"1"`
	Voter           bool `long:"voter" description:"partake in raft elections"`

	MaxResults int    `long:"max-results" description:"cap on the result map size of a single command, 0 uses the built-in default"`
	LogLevel   string `long:"log-level" description:"trace, debug, info, warning or error" default:"info"`
}

func main() {
	var opts Options
	log := logrus.WithFields(logrus.Fields{"app": "arbor"}).Logger

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("parse log level")
	}
	log.SetLevel(level)

	store := cluster.New(cluster.Config{
		WorkDir:           opts.DataDir,
		NodeID:            opts.NodeID,
		Host:              opts.Host,
		RaftPort:          opts.RaftPort,
		BootstrapExpect:   opts.BootstrapExpect,
		HeartbeatTimeout:  time.Second,
		ElectionTimeout:   time.Second,
		SnapshotInterval:  120 * time.Second,
		SnapshotThreshold: 8192,
		MaxResults:        opts.MaxResults,
		Voter:             opts.Voter || opts.BootstrapExpect > 0,
		Logger:            log,
		LogLevel:          opts.LogLevel,
	})
	svc := cluster.NewService(&store)

	ctx := context.Background()
	if err := svc.Open(ctx); err != nil {
		log.WithError(err).Fatal("open raft store")
	}

	// a single-node cluster bootstraps off its own candidacy; larger
	// clusters are expected to cross-notify via the join endpoint
	if opts.BootstrapExpect > 0 {
		raftAddr := fmt.Sprintf("%s:%d", opts.Host, opts.RaftPort)
		if err := store.Notify(opts.NodeID, raftAddr); err != nil {
			log.WithError(err).Fatal("notify bootstrapper")
		}
	}

	httpSrv := &http.Server{
		Addr:    opts.HTTPAddr,
		Handler: newHandler(&store, svc, log),
	}
	go func() {
		log.WithField("address", opts.HTTPAddr).Info("starting http api")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http api")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down ...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown http api")
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown raft store")
	}
}
