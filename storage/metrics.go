// Copyright 2024 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package storage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cubefs/infrakit/storage/chunk"
)

var (
	chunkMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "infrakit",
			Subsystem: "storage",
			Name:      "chunks",
			Help:      "chunks of manager by state",
		},
		[]string{"manager", "state"},
	)
	cachedBytesMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "infrakit",
			Subsystem: "storage",
			Name:      "cached_bytes",
			Help:      "bytes of chunk data cached in memory",
		},
		[]string{"manager"},
	)
	writtenMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infrakit",
			Subsystem: "storage",
			Name:      "written_bytes",
			Help:      "bytes of records written",
		},
		[]string{"manager"},
	)
	readMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infrakit",
			Subsystem: "storage",
			Name:      "reads",
			Help:      "record reads by source",
		},
		[]string{"manager", "source"},
	)
)

func init() {
	prometheus.MustRegister(chunkMetric)
	prometheus.MustRegister(cachedBytesMetric)
	prometheus.MustRegister(writtenMetric)
	prometheus.MustRegister(readMetric)
}

func reportStats(manager string, delta chunk.Stats) {
	writtenMetric.WithLabelValues(manager).Add(float64(delta.BytesWritten))
	readMetric.WithLabelValues(manager, "file").Add(float64(delta.FileReads))
	readMetric.WithLabelValues(manager, "cache").Add(float64(delta.CacheReads))
	readMetric.WithLabelValues(manager, "unmanaged").Add(float64(delta.UnmanagedReads))
}
