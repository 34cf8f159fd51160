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
	"runtime/debug"
	"sync"

	"github.com/cubefs/infrakit/remoting/proto"
	"github.com/cubefs/infrakit/remoting/transport"
	"github.com/cubefs/infrakit/util/log"
)

// RequestContext is given to handlers, replies are sent back on the
// connection the request came from.
type RequestContext interface {
	Connection() *transport.Connection
	// SendResponse is a no-op for one-way requests.
	SendResponse(resp *proto.Response) error
}

// RequestHandler serves requests of a code. A non-nil response is sent
// back, a handler replying later through ctx returns nil.
type RequestHandler interface {
	HandleRequest(ctx RequestContext, req *proto.Request) (*proto.Response, error)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(ctx RequestContext, req *proto.Request) (*proto.Response, error)

func (f RequestHandlerFunc) HandleRequest(ctx RequestContext, req *proto.Request) (*proto.Response, error) {
	return f(ctx, req)
}

// PushHandler receives server push messages on client.
type PushHandler interface {
	HandlePush(msg *proto.PushMessage)
}

// PushHandlerFunc adapts a function to PushHandler.
type PushHandlerFunc func(msg *proto.PushMessage)

func (f PushHandlerFunc) HandlePush(msg *proto.PushMessage) { f(msg) }

// ConnectionListener observes connections of a client or a server.
// Callbacks must not block.
type ConnectionListener interface {
	OnConnectionEstablished(conn *transport.Connection)
	OnConnectionClosed(conn *transport.Connection, err error)
	OnConnectionFailed(addr string, err error)
}

type requestContext struct {
	conn    *transport.Connection
	request *proto.Request
}

func (c *requestContext) Connection() *transport.Connection { return c.conn }

func (c *requestContext) SendResponse(resp *proto.Response) error {
	if c.request.IsOneway() {
		return nil
	}
	return c.conn.Send(proto.EncodeServerResponse(resp))
}

type listenerSet struct {
	mu     sync.RWMutex
	items  []ConnectionListener
	logger log.Logger
}

func (s *listenerSet) add(l ConnectionListener) {
	s.mu.Lock()
	s.items = append(s.items, l)
	s.mu.Unlock()
}

func (s *listenerSet) each(fn func(l ConnectionListener)) {
	s.mu.RLock()
	items := s.items
	s.mu.RUnlock()
	for _, l := range items {
		s.call(l, fn)
	}
}

func (s *listenerSet) call(l ConnectionListener, fn func(l ConnectionListener)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("connection listener panic: %v\n%s", r, debug.Stack())
		}
	}()
	fn(l)
}

func (s *listenerSet) established(conn *transport.Connection) {
	s.each(func(l ConnectionListener) { l.OnConnectionEstablished(conn) })
}

func (s *listenerSet) closed(conn *transport.Connection, err error) {
	s.each(func(l ConnectionListener) { l.OnConnectionClosed(conn, err) })
}

func (s *listenerSet) failed(addr string, err error) {
	s.each(func(l ConnectionListener) { l.OnConnectionFailed(addr, err) })
}
