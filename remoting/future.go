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
	"sync"
	"time"

	"github.com/cubefs/infrakit/remoting/proto"
	"github.com/cubefs/infrakit/remoting/transport"
)

// ResponseFuture pending result of an async request, keyed by the
// request sequence. At most one outcome is set.
type ResponseFuture struct {
	request   *proto.Request
	conn      *transport.Connection
	timeout   time.Duration
	beginTime time.Time

	once     sync.Once
	done     chan struct{}
	response *proto.Response
	err      error
}

func newResponseFuture(conn *transport.Connection, req *proto.Request, timeout time.Duration, begin time.Time) *ResponseFuture {
	return &ResponseFuture{
		request:   req,
		conn:      conn,
		timeout:   timeout,
		beginTime: begin,
		done:      make(chan struct{}),
	}
}

func (f *ResponseFuture) Request() *proto.Request { return f.request }
func (f *ResponseFuture) Timeout() time.Duration  { return f.timeout }
func (f *ResponseFuture) BeginTime() time.Time    { return f.beginTime }

// Done is closed once the outcome is set.
func (f *ResponseFuture) Done() <-chan struct{} { return f.done }

// IsTimeout returns true if the timeout has elapsed at now.
func (f *ResponseFuture) IsTimeout(now time.Time) bool {
	return now.Sub(f.beginTime) > f.timeout
}

// complete sets the outcome, returns false if it is already set.
func (f *ResponseFuture) complete(resp *proto.Response, err error) bool {
	set := false
	f.once.Do(func() {
		f.response, f.err = resp, err
		close(f.done)
		set = true
	})
	return set
}

// Result blocks until the outcome is set. Both are nil if the connection
// closed before the response arrived.
func (f *ResponseFuture) Result() (*proto.Response, error) {
	<-f.done
	return f.response, f.err
}

// Wait blocks until the outcome is set or ctx done.
func (f *ResponseFuture) Wait(ctx context.Context) (*proto.Response, error) {
	select {
	case <-f.done:
		return f.response, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
