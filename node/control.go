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

package node

import (
	"sync"
	"sync/atomic"
)

const (
	StateStandby uint32 = iota
	StateStart
	StateRunning
	StateShutdown
	StateStopped
)

// Control runs start and shutdown of a service at most once each.
type Control struct {
	state  uint32
	once   sync.Once
	doneCh chan struct{}
}

func (c *Control) State() uint32 { return atomic.LoadUint32(&c.state) }

func (c *Control) done() chan struct{} {
	c.once.Do(func() { c.doneCh = make(chan struct{}) })
	return c.doneCh
}

// Done is closed after the service shutdown.
func (c *Control) Done() <-chan struct{} { return c.done() }

// Start runs start if the service is standby, a failed start turns
// back to standby and may be retried.
func (c *Control) Start(start func() error) error {
	if !atomic.CompareAndSwapUint32(&c.state, StateStandby, StateStart) {
		return nil
	}
	c.done()
	if err := start(); err != nil {
		atomic.StoreUint32(&c.state, StateStandby)
		return err
	}
	atomic.StoreUint32(&c.state, StateRunning)
	return nil
}

// Shutdown runs shutdown once if the service is running.
func (c *Control) Shutdown(shutdown func()) {
	if !atomic.CompareAndSwapUint32(&c.state, StateRunning, StateShutdown) {
		return
	}
	shutdown()
	atomic.StoreUint32(&c.state, StateStopped)
	close(c.done())
}

// Sync blocks until the running service shutdown, returns at once if
// the service never started.
func (c *Control) Sync() {
	switch c.State() {
	case StateRunning, StateShutdown:
		<-c.done()
	}
}
