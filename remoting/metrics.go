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

package remoting

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	invokeMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infrakit",
			Subsystem: "remoting",
			Name:      "client_invokes",
			Help:      "client invokes by type and result",
		},
		[]string{"type", "result"},
	)
	requestMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infrakit",
			Subsystem: "remoting",
			Name:      "server_requests",
			Help:      "server handled requests by code and result",
		},
		[]string{"code", "result"},
	)
	pushMetric = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "infrakit",
			Subsystem: "remoting",
			Name:      "pushes",
			Help:      "push messages sent and received",
		},
		[]string{"direction"},
	)
	pendingMetric = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "infrakit",
			Subsystem: "remoting",
			Name:      "pending_requests",
			Help:      "client requests waiting for response",
		},
	)
)

func init() {
	prometheus.MustRegister(invokeMetric)
	prometheus.MustRegister(requestMetric)
	prometheus.MustRegister(pushMetric)
	prometheus.MustRegister(pendingMetric)
}

func reportInvoke(typ, result string) {
	invokeMetric.WithLabelValues(typ, result).Inc()
}

func reportRequest(code int16, result string) {
	requestMetric.WithLabelValues(strconv.Itoa(int(code)), result).Inc()
}
