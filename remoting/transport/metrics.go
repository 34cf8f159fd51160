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

package transport

import "github.com/prometheus/client_golang/prometheus"

var (
	frameMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infrakit",
			Subsystem: "transport",
			Name:      "frames",
			Help:      "frames sent and received",
		},
		[]string{"direction"},
	)
	byteMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infrakit",
			Subsystem: "transport",
			Name:      "bytes",
			Help:      "bytes written to and read from sockets",
		},
		[]string{"direction"},
	)
	connMetric = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "infrakit",
			Subsystem: "transport",
			Name:      "connections",
			Help:      "open connections",
		},
	)
)

func init() {
	prometheus.MustRegister(frameMetric)
	prometheus.MustRegister(byteMetric)
	prometheus.MustRegister(connMetric)
}

func reportSend(frames, bytes int) {
	frameMetric.WithLabelValues("out").Add(float64(frames))
	byteMetric.WithLabelValues("out").Add(float64(bytes))
}

func reportRecv(bytes int) {
	byteMetric.WithLabelValues("in").Add(float64(bytes))
}

func reportFrameIn() {
	frameMetric.WithLabelValues("in").Inc()
}
