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
	"time"

	"github.com/pkg/errors"

	"github.com/cubefs/infrakit/remoting"
	"github.com/cubefs/infrakit/remoting/proto"
	"github.com/cubefs/infrakit/util/scheduler"
)

var ErrRecordNotFound = errors.New("node: record not found")

// Client calls a node.
type Client struct {
	remote  *remoting.Client
	timeout time.Duration
}

func NewClient(addr string, cfg *Config, sched scheduler.Scheduler) *Client {
	cfg.fillDefault()
	return &Client{
		remote:  remoting.NewClient(addr, &cfg.Client, sched),
		timeout: cfg.RequestTimeout,
	}
}

func (c *Client) Start() error { return c.remote.Start() }

func (c *Client) Shutdown() { c.remote.Shutdown() }

func (c *Client) Remoting() *remoting.Client { return c.remote }

// OnChunkRotated calls fn on every chunk rotation of the node.
func (c *Client) OnChunkRotated(fn func(completed, active int64)) {
	c.remote.SetPushHandler(remoting.PushHandlerFunc(func(msg *proto.PushMessage) {
		if completed, active, err := DecodeChunkRotated(msg); err == nil {
			fn(completed, active)
		}
	}))
}

func (c *Client) invoke(code int16, body []byte) (*proto.Response, error) {
	resp, err := c.remote.InvokeSync(proto.NewRequest(code, body), c.timeout)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errors.Errorf("node: %s", resp.Body)
	}
	return resp, nil
}

func (c *Client) Ping() (string, error) {
	resp, err := c.invoke(CodePing, []byte("ping"))
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// Append returns the global position of data.
func (c *Client) Append(data []byte) (int64, error) {
	resp, err := c.invoke(CodeAppend, data)
	if err != nil {
		return 0, err
	}
	return decodeInt64(resp.Body)
}

// AppendOneway appends data without waiting the position.
func (c *Client) AppendOneway(data []byte) error {
	req := proto.NewRequest(CodeAppend, data)
	return c.remote.InvokeOneway(req, c.timeout)
}

// Read returns ErrRecordNotFound if nothing is at pos.
func (c *Client) Read(pos int64) ([]byte, error) {
	resp, err := c.invoke(CodeRead, encodeInt64(pos))
	if err != nil {
		return nil, err
	}
	if resp.ResponseCode == CodeNotFound {
		return nil, ErrRecordNotFound
	}
	return resp.Body, nil
}
