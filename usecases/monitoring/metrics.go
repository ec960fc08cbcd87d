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

// Package monitoring exposes the prometheus metrics of the tree store.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbor",
		Name:      "apply_duration_seconds",
		Help:      "Time to apply a replicated command to the state machine.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"command", "status"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbor",
		Name:      "query_duration_seconds",
		Help:      "Time to serve a read-only tree query.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"status"})

	treeNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbor",
		Name:      "tree_nodes",
		Help:      "Number of nodes currently stored in the tree, root included.",
	})

	keepWhileEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbor",
		Name:      "keep_while_entries",
		Help:      "Number of installed keep-while maps.",
	})
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveApply records the outcome of one applied command.
func ObserveApply(command string, d time.Duration, err error) {
	applyDuration.WithLabelValues(command, status(err)).Observe(d.Seconds())
}

// ObserveQuery records the outcome of one read-only query.
func ObserveQuery(d time.Duration, err error) {
	queryDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}

// SetMachineSize updates the state machine size gauges after a write.
func SetMachineSize(nodes, keepWhile int) {
	treeNodes.Set(float64(nodes))
	keepWhileEntries.Set(float64(keepWhile))
}
