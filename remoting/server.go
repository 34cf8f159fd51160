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
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cubefs/infrakit/remoting/proto"
	"github.com/cubefs/infrakit/remoting/transport"
	"github.com/cubefs/infrakit/util/log"
	"github.com/cubefs/infrakit/util/scheduler"
	"github.com/cubefs/infrakit/util/taskpool"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Server accepts connections and dispatches requests to handlers by code.
type Server struct {
	config *ServerConfig
	sched  scheduler.Scheduler
	logger log.Logger

	state      int32
	listener   net.Listener
	pool       *taskpool.TaskPool
	closeC     chan struct{}
	acceptDone chan struct{}
	statTaskID int64

	handlerMu sync.RWMutex
	handlers  map[int16]RequestHandler

	connMu sync.RWMutex
	conns  map[string]*transport.Connection

	listeners *listenerSet
}

// NewServer returns a server, register handlers then Start.
func NewServer(cfg *ServerConfig, sched scheduler.Scheduler) *Server {
	cfg.FillDefault()
	return &Server{
		config:     cfg,
		sched:      sched,
		logger:     cfg.Logger,
		closeC:     make(chan struct{}),
		acceptDone: make(chan struct{}),
		handlers:   make(map[int16]RequestHandler),
		conns:      make(map[string]*transport.Connection),
		listeners:  &listenerSet{logger: cfg.Logger},
	}
}

// RegisterHandler sets handler of code, replaces the old one.
func (s *Server) RegisterHandler(code int16, h RequestHandler) {
	s.handlerMu.Lock()
	s.handlers[code] = h
	s.handlerMu.Unlock()
}

func (s *Server) handler(code int16) RequestHandler {
	s.handlerMu.RLock()
	h := s.handlers[code]
	s.handlerMu.RUnlock()
	return h
}

func (s *Server) RegisterConnectionListener(l ConnectionListener) {
	s.listeners.add(l)
}

// Start listens on the configured address and accepts in background.
func (s *Server) Start() error {
	if err := s.config.verify(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&s.state, stateInit, stateStarted) {
		if atomic.LoadInt32(&s.state) == stateShutdown {
			return ErrServerShutdown
		}
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		atomic.StoreInt32(&s.state, stateInit)
		return err
	}
	s.listener = ln
	s.pool = taskpool.New(s.config.HandlerWorkers, s.config.HandlerQueueSize)
	go s.acceptLoop()

	interval := s.config.StatInterval
	s.statTaskID = s.sched.ScheduleTask("remoting.server.stat", s.stat, interval, interval)
	s.logger.Infof("server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	var delay time.Duration
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeC:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if delay == 0 {
					delay = minAcceptDelay
				} else {
					delay *= 2
				}
				if delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				s.logger.Warnf("server accept error: %v, retrying in %s", err, delay)
				s.listeners.failed(s.config.Address, err)
				select {
				case <-time.After(delay):
				case <-s.closeC:
					return
				}
				continue
			}
			s.logger.Errorf("server accept loop exit: %v", err)
			s.listeners.failed(s.config.Address, err)
			return
		}
		delay = 0
		s.serve(nc)
	}
}

func (s *Server) serve(nc net.Conn) {
	conn := transport.NewConnection(nc, s.config.Transport, &serverConnHandler{s})
	s.connMu.Lock()
	if atomic.LoadInt32(&s.state) == stateShutdown {
		s.connMu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn.ID()] = conn
	s.connMu.Unlock()

	conn.Start()
	s.logger.Debugf("server accepted %s", conn)
	s.listeners.established(conn)
}

// ConnectionCount returns accepted connections not closed yet.
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	n := len(s.conns)
	s.connMu.RUnlock()
	return n
}

func (s *Server) connections() []*transport.Connection {
	s.connMu.RLock()
	conns := make([]*transport.Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connMu.RUnlock()
	return conns
}

func (s *Server) dispatch(conn *transport.Connection, msg []byte) {
	req, err := proto.DecodeRequest(msg)
	if err != nil {
		s.logger.Errorf("server decode request from %s: %v", conn, err)
		conn.Close()
		return
	}
	if !s.pool.Run(func() { s.handle(conn, req) }) {
		s.logger.Warnf("server drop %s from %s, handler pool closed", req, conn)
	}
}

func (s *Server) handle(conn *transport.Connection, req *proto.Request) {
	ctx := &requestContext{conn: conn, request: req}
	h := s.handler(req.Code)
	if h == nil {
		s.logger.Warnf("server no request handler for %s from %s", req, conn)
		reportRequest(req.Code, "no_handler")
		s.replyError(ctx, fmt.Sprintf("no request handler found for code %d", req.Code))
		return
	}

	resp, err := s.invokeHandler(h, ctx, req)
	if err != nil {
		s.logger.Errorf("server handle %s from %s: %v", req, conn, err)
		reportRequest(req.Code, "error")
		s.replyError(ctx, err.Error())
		return
	}
	reportRequest(req.Code, "ok")
	if resp == nil {
		return
	}
	if err = ctx.SendResponse(resp); err != nil {
		s.logger.Warnf("server send %s to %s: %v", resp, conn, err)
	}
}

func (s *Server) invokeHandler(h RequestHandler, ctx RequestContext, req *proto.Request) (resp *proto.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("server handler panic on %s: %v\n%s", req, r, debug.Stack())
			resp, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.HandleRequest(ctx, req)
}

func (s *Server) replyError(ctx *requestContext, text string) {
	if ctx.request.IsOneway() {
		return
	}
	if err := ctx.SendResponse(proto.NewErrorResponse(ctx.request, text)); err != nil {
		s.logger.Warnf("server send error response of %s to %s: %v", ctx.request, ctx.conn, err)
	}
}

// Push broadcasts msg to all accepted connections, returns connections
// the message was queued to.
func (s *Server) Push(msg *proto.PushMessage) (int, error) {
	buf, err := proto.EncodePushMessage(msg)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, conn := range s.connections() {
		if err := conn.Send(buf); err != nil {
			s.logger.Warnf("server push %s to %s: %v", msg, conn, err)
			continue
		}
		sent++
	}
	pushMetric.WithLabelValues("out").Add(float64(sent))
	return sent, nil
}

// PushTo sends msg to the connection of connID.
func (s *Server) PushTo(connID string, msg *proto.PushMessage) error {
	s.connMu.RLock()
	conn, ok := s.conns[connID]
	s.connMu.RUnlock()
	if !ok {
		return ErrConnectionNotFound
	}
	buf, err := proto.EncodePushMessage(msg)
	if err != nil {
		return err
	}
	if err = conn.Send(buf); err != nil {
		return err
	}
	pushMetric.WithLabelValues("out").Inc()
	return nil
}

func (s *Server) stat() {
	var pendingBytes, pendingCount int64
	conns := s.connections()
	for _, conn := range conns {
		pendingBytes += conn.PendingSendBytes()
		pendingCount += conn.PendingSendCount()
	}
	s.logger.Infof("server %s connections: %d, pending send: %d frames %s",
		s.config.Address, len(conns), pendingCount, humanize.IBytes(uint64(pendingBytes)))
	pool := s.config.Transport.Pool
	freed := pool.Shrink()
	if s.logger.IsEnabled(log.Ldebug) {
		s.logger.Debugf("server buffer pool: %+v, freed %d", pool.Stats(), freed)
	}
}

// Shutdown stops accepting, closes all connections and waits running
// handlers.
func (s *Server) Shutdown() {
	old := atomic.SwapInt32(&s.state, stateShutdown)
	if old != stateStarted {
		return
	}
	close(s.closeC)
	s.sched.ShutdownTask(s.statTaskID)
	s.listener.Close()
	<-s.acceptDone

	for _, conn := range s.connections() {
		conn.Close()
	}
	s.pool.Close()
	s.logger.Infof("server %s shutdown", s.config.Address)
}

type serverConnHandler struct {
	s *Server
}

func (h *serverConnHandler) OnMessage(conn *transport.Connection, msg []byte) {
	h.s.dispatch(conn, msg)
}

func (h *serverConnHandler) OnClosed(conn *transport.Connection, err error) {
	s := h.s
	s.connMu.Lock()
	delete(s.conns, conn.ID())
	s.connMu.Unlock()
	if err != nil {
		s.logger.Warnf("server %s closed: %v", conn, err)
	}
	s.listeners.closed(conn, err)
}
