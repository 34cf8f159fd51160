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

// Package scheduler runs named periodic background tasks.
package scheduler

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cubefs/infrakit/util/log"
)

var taskMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "infrakit",
		Subsystem: "scheduler",
		Name:      "task_runs",
		Help:      "scheduled task runs by result",
	},
	[]string{"task", "result"},
)

func init() {
	prometheus.MustRegister(taskMetric)
}

// Scheduler runs task after dueTime then every period, one run at a
// time per task. A run that panics is logged and the schedule goes on.
// A period not greater than zero runs the task once.
type Scheduler interface {
	ScheduleTask(name string, task func(), dueTime, period time.Duration) int64
	ShutdownTask(taskID int64)
}

type Config struct {
	Clock  clock.Clock
	Logger log.Logger
}

type scheduledTask struct {
	id      int64
	name    string
	fn      func()
	period  time.Duration
	closeCh chan struct{}
	once    sync.Once
}

func (t *scheduledTask) stop() {
	t.once.Do(func() { close(t.closeCh) })
}

// TaskScheduler default Scheduler, each task owns one goroutine.
type TaskScheduler struct {
	clock  clock.Clock
	logger log.Logger

	nextID  int64
	mu      sync.Mutex
	tasks   map[int64]*scheduledTask
	stopped bool
	wg      sync.WaitGroup
}

var _ Scheduler = (*TaskScheduler)(nil)

func New(cfg Config) *TaskScheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.DefaultLogger()
	}
	return &TaskScheduler{
		clock:  cfg.Clock,
		logger: cfg.Logger,
		tasks:  make(map[int64]*scheduledTask),
	}
}

// ScheduleTask returns id of the task, or 0 if the scheduler is stopped.
func (s *TaskScheduler) ScheduleTask(name string, fn func(), dueTime, period time.Duration) int64 {
	task := &scheduledTask{
		id:      atomic.AddInt64(&s.nextID, 1),
		name:    name,
		fn:      fn,
		period:  period,
		closeCh: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Warnf("scheduler stopped, drop task %s", name)
		return 0
	}
	s.tasks[task.id] = task
	s.wg.Add(1)
	go s.loop(task, s.clock.Timer(dueTime))
	s.logger.Debugf("schedule task %s id:%d due:%v period:%v", name, task.id, dueTime, period)
	return task.id
}

// ShutdownTask stops future runs, a running one is not interrupted.
func (s *TaskScheduler) ShutdownTask(taskID int64) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	delete(s.tasks, taskID)
	s.mu.Unlock()
	if ok {
		task.stop()
		s.logger.Debugf("shutdown task %s id:%d", task.name, taskID)
	}
}

// Stop shuts down all tasks and waits their goroutines exit.
func (s *TaskScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	tasks := s.tasks
	s.tasks = make(map[int64]*scheduledTask)
	s.mu.Unlock()

	for _, task := range tasks {
		task.stop()
	}
	s.wg.Wait()
}

// TaskCount returns number of scheduled tasks.
func (s *TaskScheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *TaskScheduler) loop(task *scheduledTask, timer *clock.Timer) {
	defer s.wg.Done()
	defer timer.Stop()
	for {
		select {
		case <-task.closeCh:
			return
		case <-timer.C:
		}

		s.run(task)
		if task.period <= 0 {
			s.mu.Lock()
			if t := s.tasks[task.id]; t == task {
				delete(s.tasks, task.id)
			}
			s.mu.Unlock()
			return
		}
		timer.Reset(task.period)
	}
}

func (s *TaskScheduler) run(task *scheduledTask) {
	defer func() {
		if r := recover(); r != nil {
			taskMetric.WithLabelValues(task.name, "panic").Inc()
			s.logger.Errorf("task %s id:%d panic: %v\n%s", task.name, task.id, r, debug.Stack())
		}
	}()

	select {
	case <-task.closeCh:
		return
	default:
	}
	task.fn()
	taskMetric.WithLabelValues(task.name, "ok").Inc()
}
