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

// Package node serves a chunk storage over remoting: records are
// appended and read by global position, and chunk rotations are pushed
// to all connected clients.
package node

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cubefs/infrakit/remoting"
	"github.com/cubefs/infrakit/storage"
	"github.com/cubefs/infrakit/util/log"
	"github.com/cubefs/infrakit/util/scheduler"
)

const storageName = "node"

type Node struct {
	control Control
	config  *Config
	logger  log.Logger

	sched   *scheduler.TaskScheduler
	manager *storage.ChunkManager
	writer  *storage.ChunkWriter
	reader  *storage.ChunkReader
	server  *remoting.Server

	metricsLn  net.Listener
	metricsSrv *http.Server
}

// New returns a node, nothing is opened until Start.
func New(cfg *Config) (*Node, error) {
	cfg.fillDefault()
	sched := scheduler.New(scheduler.Config{Logger: cfg.Logger})
	manager, err := storage.NewChunkManager(storageName, &cfg.Storage, sched)
	if err != nil {
		sched.Stop()
		return nil, err
	}

	n := &Node{
		config:  cfg,
		logger:  cfg.Logger,
		sched:   sched,
		manager: manager,
		writer:  storage.NewChunkWriter(manager),
		reader:  storage.NewChunkReader(manager),
		server:  remoting.NewServer(&cfg.Server, sched),
	}
	n.writer.SetRotateListener(n.onRotate)
	n.registerHandlers()
	return n, nil
}

func (n *Node) Start(ctx context.Context) error {
	return n.control.Start(func() error { return n.doStart(ctx) })
}

func (n *Node) doStart(ctx context.Context) error {
	if err := n.manager.Load(ctx); err != nil {
		n.manager.Close()
		return err
	}
	if err := n.writer.Open(); err != nil {
		n.manager.Close()
		return err
	}
	if err := n.server.Start(); err != nil {
		n.manager.Close()
		return err
	}
	if n.config.MetricsAddr != "" {
		if err := n.startMetrics(); err != nil {
			n.server.Shutdown()
			n.manager.Close()
			return err
		}
	}
	n.logger.Infof("node serving at %s, storage at %s", n.server.Addr(), n.config.Storage.BasePath)
	return nil
}

func (n *Node) startMetrics() error {
	ln, err := net.Listen("tcp", n.config.MetricsAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	n.metricsLn = ln
	n.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := n.metricsSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			n.logger.Errorf("metrics server at %s: %v", ln.Addr(), err)
		}
	}()
	n.logger.Infof("metrics at http://%s/metrics", ln.Addr())
	return nil
}

// Addr returns the remoting address, nil if not started.
func (n *Node) Addr() net.Addr { return n.server.Addr() }

// MetricsAddr returns nil if metrics is not served.
func (n *Node) MetricsAddr() net.Addr {
	if n.metricsLn == nil {
		return nil
	}
	return n.metricsLn.Addr()
}

func (n *Node) Manager() *storage.ChunkManager { return n.manager }

func (n *Node) Shutdown() {
	n.control.Shutdown(n.doShutdown)
}

func (n *Node) doShutdown() {
	n.server.Shutdown()
	if n.metricsSrv != nil {
		n.metricsSrv.Close()
	}
	if err := n.writer.Close(); err != nil {
		n.logger.Errorf("node flush writer: %v", err)
	}
	if err := n.manager.Close(); err != nil {
		n.logger.Errorf("node close storage: %v", err)
	}
	n.sched.Stop()
	n.logger.Info("node shutdown")
}

// Sync blocks until the node shutdown.
func (n *Node) Sync() { n.control.Sync() }
