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

// Package taskpool runs functions on a fixed set of worker goroutines.
package taskpool

import "sync"

// TaskPool fixed size pool of workers fed by a task channel.
type TaskPool struct {
	taskC     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
}

// New returns a pool with workerCount workers and a queue of queueSize
// pending tasks.
func New(workerCount, queueSize int) *TaskPool {
	if queueSize < 0 {
		queueSize = 0
	}
	p := &TaskPool{taskC: make(chan func(), queueSize)}
	for ii := 0; ii < workerCount; ii++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *TaskPool) worker() {
	defer p.wg.Done()
	for task := range p.taskC {
		task()
	}
}

// Run blocks until task is taken by the queue, returns false if the
// pool has been closed.
func (p *TaskPool) Run(task func()) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return false
	}
	p.taskC <- task
	return true
}

// TryRun returns false if no worker or queue slot is free now.
func (p *TaskPool) TryRun(task func()) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.taskC <- task:
		return true
	default:
		return false
	}
}

// Close waits queued tasks done, tasks after Close are dropped.
func (p *TaskPool) Close() {
	p.closeOnce.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		close(p.taskC)
		p.closeMu.Unlock()
		p.wg.Wait()
	})
}
