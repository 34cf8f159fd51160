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

package transport

import (
	"errors"
	"time"

	"github.com/cubefs/infrakit/util/bytespool"
	"github.com/cubefs/infrakit/util/defaulter"
	"github.com/cubefs/infrakit/util/log"
)

const (
	defaultMaxPacketSize     = 64 << 10
	defaultReceiveBufferSize = 64 << 10
	defaultMaxFrameSize      = 16 << 20
	defaultPoolBatch         = 16
)

// Config transport config of connections.
type Config struct {
	// MaxPacketSize bounds the bytes coalesced into one socket write.
	MaxPacketSize     int           `json:"max_packet_size" yaml:"max_packet_size"`
	ReceiveBufferSize int           `json:"receive_buffer_size" yaml:"receive_buffer_size"`
	MaxFrameSize      int           `json:"max_frame_size" yaml:"max_frame_size"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PoolBatch         int           `json:"pool_batch" yaml:"pool_batch"`

	// Pool of send and receive buffers, shared by connections of the
	// same client or server. Made by NewBufferPool if nil.
	Pool   *bytespool.BufferPool `json:"-" yaml:"-"`
	Logger log.Logger            `json:"-" yaml:"-"`
}

// DefaultConfig returns a default transport config.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.FillDefault()
	return cfg
}

// FillDefault sets zero fields to defaults, and makes the buffer pool.
func (c *Config) FillDefault() {
	defaulter.LessOrEqual(&c.MaxPacketSize, defaultMaxPacketSize)
	defaulter.LessOrEqual(&c.ReceiveBufferSize, defaultReceiveBufferSize)
	defaulter.LessOrEqual(&c.MaxFrameSize, defaultMaxFrameSize)
	defaulter.LessOrEqual(&c.PoolBatch, defaultPoolBatch)
	if c.Logger == nil {
		c.Logger = log.DefaultLogger()
	}
	if c.Pool == nil {
		c.Pool = NewBufferPool(c)
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(c *Config) error {
	if c.MaxPacketSize <= headerSize {
		return errors.New("transport: max packet size too small")
	}
	if c.ReceiveBufferSize <= 0 {
		return errors.New("transport: receive buffer size must be positive")
	}
	if c.MaxFrameSize <= 0 {
		return errors.New("transport: max frame size must be positive")
	}
	if c.Pool != nil && c.Pool.BufferSize() < c.ReceiveBufferSize {
		return errors.New("transport: pool buffer smaller than receive buffer")
	}
	return nil
}

// NewBufferPool returns pool whose buffers fit both a coalesced packet
// and a receive buffer.
func NewBufferPool(c *Config) *bytespool.BufferPool {
	size := c.MaxPacketSize
	if c.ReceiveBufferSize > size {
		size = c.ReceiveBufferSize
	}
	return bytespool.NewBufferPool(size, c.PoolBatch)
}
