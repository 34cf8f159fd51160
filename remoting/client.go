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
	"context"
	"errors"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/cubefs/infrakit/remoting/proto"
	"github.com/cubefs/infrakit/remoting/transport"
	"github.com/cubefs/infrakit/util/log"
	"github.com/cubefs/infrakit/util/retry"
	"github.com/cubefs/infrakit/util/scheduler"
)

const (
	stateInit int32 = iota
	stateStarted
	stateShutdown
)

const onewayThrottleCheckInterval = time.Millisecond

// Client sends requests to one server over a single connection.
//
// Replies are queued by the receive loop and handled by one dispatcher
// goroutine. A reply and the timeout scanner both remove the future
// from the pending map under pendingMu, the one that removes it sets
// the outcome.
type Client struct {
	addr   string
	config *ClientConfig
	sched  scheduler.Scheduler
	clock  clock.Clock
	logger log.Logger

	state int32

	connMu sync.RWMutex
	conn   *transport.Connection

	pendingMu sync.Mutex
	pending   map[int64]*ResponseFuture

	replyC         chan []byte
	stopC          chan struct{}
	dispatcherDone chan struct{}
	scanTaskID     int64

	reconnecting int32
	limiter      *rate.Limiter

	pushHandler atomic.Value
	listeners   *listenerSet
}

// NewClient returns a client of server addr, call Start before invoking.
func NewClient(addr string, cfg *ClientConfig, sched scheduler.Scheduler) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	cfg.FillDefault()
	return &Client{
		addr:           addr,
		config:         cfg,
		sched:          sched,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		pending:        make(map[int64]*ResponseFuture),
		replyC:         make(chan []byte, cfg.ReplyQueueSize),
		stopC:          make(chan struct{}),
		dispatcherDone: make(chan struct{}),
		limiter:        rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		listeners:      &listenerSet{logger: cfg.Logger},
	}
}

func (c *Client) ServerAddress() string { return c.addr }

// RegisterConnectionListener adds l, call it before Start.
func (c *Client) RegisterConnectionListener(l ConnectionListener) {
	c.listeners.add(l)
}

// SetPushHandler sets handler of server push messages.
func (c *Client) SetPushHandler(h PushHandler) {
	c.pushHandler.Store(pushHandlerHolder{h})
}

type pushHandlerHolder struct{ h PushHandler }

// Start connects to server and starts background tasks. A failed dial
// is retried in background. Start a started client is a no-op.
func (c *Client) Start() error {
	if !atomic.CompareAndSwapInt32(&c.state, stateInit, stateStarted) {
		if atomic.LoadInt32(&c.state) == stateShutdown {
			return ErrClientShutdown
		}
		return nil
	}

	go c.dispatchLoop()
	interval := c.config.ScanTimeoutInterval
	c.scanTaskID = c.sched.ScheduleTask("remoting.client.scan_timeout", c.scanTimeout, interval, interval)

	if err := c.connect(); err != nil {
		c.logger.Warnf("client connect to %s failed: %v", c.addr, err)
		c.listeners.failed(c.addr, err)
		c.reconnect()
	}
	return nil
}

func (c *Client) isStarted() bool  { return atomic.LoadInt32(&c.state) == stateStarted }
func (c *Client) isShutdown() bool { return atomic.LoadInt32(&c.state) == stateShutdown }

func (c *Client) connection() *transport.Connection {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	return conn
}

func (c *Client) IsConnected() bool {
	conn := c.connection()
	return conn != nil && !conn.IsClosed()
}

// PendingRequestCount returns requests waiting for response.
func (c *Client) PendingRequestCount() int {
	c.pendingMu.Lock()
	n := len(c.pending)
	c.pendingMu.Unlock()
	return n
}

func (c *Client) connect() error {
	nc, err := net.DialTimeout("tcp", c.addr, c.config.ConnectTimeout)
	if err != nil {
		return err
	}
	conn := transport.NewConnection(nc, c.config.Transport, &clientConnHandler{c})

	c.connMu.Lock()
	if c.isShutdown() {
		c.connMu.Unlock()
		conn.Close()
		return ErrClientShutdown
	}
	c.conn = conn
	c.connMu.Unlock()

	conn.Start()
	c.logger.Infof("client connected %s", conn)
	c.listeners.established(conn)
	return nil
}

// reconnect runs at most one reconnect loop in background. Rounds of
// MaxReconnectAttempts repeat until connected or shutdown.
func (c *Client) reconnect() {
	if !c.isStarted() || !atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1) {
		return
	}
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-c.stopC:
				cancel()
			case <-ctx.Done():
			}
		}()

		err := c.reconnectLoop(ctx)
		atomic.StoreInt32(&c.reconnecting, 0)
		if !c.isStarted() {
			return
		}
		if err != nil {
			c.logger.Errorf("client reconnect to %s failed %d attempts, retry after %s: %v",
				c.addr, c.config.MaxReconnectAttempts, c.config.ReconnectInterval, err)
		}
		// exhausted, or closed again before the flag was cleared
		if !c.IsConnected() {
			c.reconnect()
		}
	}()
}

func (c *Client) reconnectLoop(ctx context.Context) error {
	select {
	case <-c.clock.After(c.config.ReconnectInterval):
	case <-ctx.Done():
		return ctx.Err()
	}

	r := retry.Timed(c.config.MaxReconnectAttempts, c.config.ReconnectInterval)
	err := r.RuptOnContext(ctx, func() (bool, error) {
		if !c.isStarted() {
			return true, ErrClientShutdown
		}
		if c.IsConnected() {
			return false, nil
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return true, err
		}
		if err := c.connect(); err != nil {
			c.logger.Warnf("client reconnect to %s attempt %d failed: %v", c.addr, r.Attempts(), err)
			c.listeners.failed(c.addr, err)
			return false, err
		}
		return false, nil
	})
	if err == nil {
		c.logger.Infof("client reconnected to %s after %d attempts", c.addr, r.Attempts())
	}
	return err
}

func (c *Client) checkInvoke() (*transport.Connection, error) {
	switch atomic.LoadInt32(&c.state) {
	case stateInit:
		return nil, ErrNotStarted
	case stateShutdown:
		return nil, ErrClientShutdown
	}
	conn := c.connection()
	if conn == nil || conn.IsClosed() {
		c.reconnect()
		return nil, ErrNotConnected
	}
	return conn, nil
}

// InvokeAsync sends req and returns the future of its response.
// Errors of client state and sending return synchronously.
func (c *Client) InvokeAsync(req *proto.Request, timeout time.Duration) (*ResponseFuture, error) {
	conn, err := c.checkInvoke()
	if err != nil {
		reportInvoke("async", "rejected")
		return nil, err
	}
	req.Type = proto.RequestTypeAsync

	future := newResponseFuture(conn, req, timeout, c.clock.Now())
	c.pendingMu.Lock()
	if c.isShutdown() {
		c.pendingMu.Unlock()
		return nil, ErrClientShutdown
	}
	if _, ok := c.pending[req.Sequence]; ok {
		c.pendingMu.Unlock()
		reportInvoke("async", "duplicate")
		return nil, ErrDuplicateSequence
	}
	c.pending[req.Sequence] = future
	c.pendingMu.Unlock()
	pendingMetric.Inc()

	if err = conn.Send(proto.EncodeRequest(req)); err != nil {
		c.removePending(req.Sequence)
		reportInvoke("async", "send_failed")
		return nil, err
	}
	return future, nil
}

// InvokeSync sends req and waits its response up to timeout.
// Failures are *InvokeError except client state and sending errors.
func (c *Client) InvokeSync(req *proto.Request, timeout time.Duration) (*proto.Response, error) {
	future, err := c.InvokeAsync(req, timeout)
	if err != nil {
		return nil, err
	}

	timer := c.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case <-future.Done():
	case <-timer.C:
		if f := c.removePending(req.Sequence); f != nil {
			f.complete(nil, newInvokeError(c.addr, req, timeout, CauseNotCompleted, ErrTimeout))
		}
	}

	resp, err := future.Result()
	if err != nil {
		reportInvoke("sync", "failed")
		var ie *InvokeError
		if errors.As(err, &ie) {
			return nil, ie
		}
		return nil, newInvokeError(c.addr, req, timeout, CauseFaulted, err)
	}
	if resp == nil {
		reportInvoke("sync", "nil")
		return nil, newInvokeError(c.addr, req, timeout, CauseNilResponse, ErrNilResponse)
	}
	reportInvoke("sync", "ok")
	return resp, nil
}

// InvokeOneway sends req without waiting any response. It waits up to
// timeout while the connection is over the pending send bytes limit.
func (c *Client) InvokeOneway(req *proto.Request, timeout time.Duration) error {
	conn, err := c.checkInvoke()
	if err != nil {
		reportInvoke("oneway", "rejected")
		return err
	}
	req.Type = proto.RequestTypeOneway

	if conn.PendingSendBytes() > c.config.OnewayThrottleBytes {
		deadline := c.clock.Now().Add(timeout)
		for conn.PendingSendBytes() > c.config.OnewayThrottleBytes {
			if conn.IsClosed() {
				return ErrNotConnected
			}
			if !c.clock.Now().Before(deadline) {
				reportInvoke("oneway", "throttled")
				return newInvokeError(c.addr, req, timeout, CauseNotCompleted, ErrTimeout)
			}
			c.clock.Sleep(onewayThrottleCheckInterval)
		}
	}

	if err = conn.Send(proto.EncodeRequest(req)); err != nil {
		reportInvoke("oneway", "send_failed")
		return err
	}
	reportInvoke("oneway", "ok")
	return nil
}

func (c *Client) removePending(seq int64) *ResponseFuture {
	c.pendingMu.Lock()
	f, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.pendingMu.Unlock()
	if ok {
		pendingMetric.Dec()
	}
	return f
}

func (c *Client) scanTimeout() {
	now := c.clock.Now()
	var expired []*ResponseFuture
	c.pendingMu.Lock()
	for seq, f := range c.pending {
		if f.IsTimeout(now) {
			delete(c.pending, seq)
			expired = append(expired, f)
		}
	}
	c.pendingMu.Unlock()

	for _, f := range expired {
		pendingMetric.Dec()
		reportInvoke("async", "timeout")
		if f.complete(nil, newInvokeError(c.addr, f.request, f.timeout, CauseNotCompleted, ErrTimeout)) {
			c.logger.Warnf("client remove timeout %s of %s, elapsed %s", f.request, c.addr, now.Sub(f.beginTime))
		}
	}
}

// completeClosed completes the futures sent on conn without response.
func (c *Client) completeClosed(conn *transport.Connection) int {
	var orphans []*ResponseFuture
	c.pendingMu.Lock()
	for seq, f := range c.pending {
		if f.conn == conn {
			delete(c.pending, seq)
			orphans = append(orphans, f)
		}
	}
	c.pendingMu.Unlock()

	for _, f := range orphans {
		pendingMetric.Dec()
		if f.complete(nil, nil) {
			reportInvoke("async", "closed")
		}
	}
	return len(orphans)
}

func (c *Client) dispatchLoop() {
	defer close(c.dispatcherDone)
	for {
		select {
		case msg := <-c.replyC:
			c.handleReply(msg)
		case <-c.stopC:
			return
		}
	}
}

func (c *Client) handleReply(msg []byte) {
	kind, resp, push, err := proto.DecodeServerMessage(msg)
	if err != nil {
		c.logger.Warnf("client decode message of kind %d from %s: %v", kind, c.addr, err)
		return
	}

	if kind == proto.KindServerPush {
		pushMetric.WithLabelValues("in").Inc()
		c.handlePush(push)
		return
	}

	f := c.removePending(resp.RequestSequence)
	if f == nil {
		if c.logger.IsEnabled(log.Ldebug) {
			c.logger.Debugf("client discard response %s from %s, request not pending", resp, c.addr)
		}
		return
	}
	if f.complete(resp, nil) {
		reportInvoke("async", "ok")
	}
}

func (c *Client) handlePush(msg *proto.PushMessage) {
	holder, ok := c.pushHandler.Load().(pushHandlerHolder)
	if !ok || holder.h == nil {
		c.logger.Debugf("client drop %s, no push handler", msg)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("client push handler panic on %s: %v\n%s", msg, r, debug.Stack())
		}
	}()
	holder.h.HandlePush(msg)
}

// Shutdown stops background tasks, closes the connection and fails
// pending requests with ErrClientShutdown.
func (c *Client) Shutdown() {
	old := atomic.SwapInt32(&c.state, stateShutdown)
	if old == stateShutdown {
		return
	}
	if old == stateStarted {
		c.sched.ShutdownTask(c.scanTaskID)
		close(c.stopC)
		<-c.dispatcherDone
	}

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*ResponseFuture)
	c.pendingMu.Unlock()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
	for _, f := range pending {
		pendingMetric.Dec()
		f.complete(nil, ErrClientShutdown)
	}
	c.logger.Infof("client of %s shutdown, failed %d pending requests", c.addr, len(pending))
}

type clientConnHandler struct {
	c *Client
}

func (h *clientConnHandler) OnMessage(conn *transport.Connection, msg []byte) {
	select {
	case h.c.replyC <- msg:
	case <-h.c.stopC:
	}
}

func (h *clientConnHandler) OnClosed(conn *transport.Connection, err error) {
	c := h.c
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()

	if err != nil {
		c.logger.Warnf("client %s closed: %v", conn, err)
	} else {
		c.logger.Infof("client %s closed", conn)
	}
	if n := c.completeClosed(conn); n > 0 {
		c.logger.Warnf("client %s closed with %d pending requests", conn, n)
	}
	c.listeners.closed(conn, err)
	c.reconnect()
}
