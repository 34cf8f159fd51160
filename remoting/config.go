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
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cubefs/infrakit/remoting/transport"
	"github.com/cubefs/infrakit/util/defaulter"
	"github.com/cubefs/infrakit/util/log"
)

const (
	defaultConnectTimeout       = 3 * time.Second
	defaultScanTimeoutInterval  = 1000 * time.Millisecond
	defaultReconnectInterval    = time.Second
	defaultMaxReconnectAttempts = 30
	defaultReplyQueueSize       = 1024
	defaultOnewayThrottleBytes  = 16 << 20
	defaultHandlerWorkers       = 16
	defaultHandlerQueueSize     = 1024
	defaultStatInterval         = 60 * time.Second
)

// ClientConfig remoting client config.
type ClientConfig struct {
	Transport            *transport.Config `json:"transport" yaml:"transport"`
	ConnectTimeout       time.Duration     `json:"connect_timeout" yaml:"connect_timeout"`
	ScanTimeoutInterval  time.Duration     `json:"scan_timeout_interval" yaml:"scan_timeout_interval"`
	ReconnectInterval    time.Duration     `json:"reconnect_interval" yaml:"reconnect_interval"`
	MaxReconnectAttempts int               `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReplyQueueSize       int               `json:"reply_queue_size" yaml:"reply_queue_size"`
	// InvokeOneway waits while the connection has more pending send bytes.
	OnewayThrottleBytes int64 `json:"oneway_throttle_bytes" yaml:"oneway_throttle_bytes"`

	Clock  clock.Clock `json:"-" yaml:"-"`
	Logger log.Logger  `json:"-" yaml:"-"`
}

// DefaultClientConfig returns a default client config.
func DefaultClientConfig() *ClientConfig {
	cfg := &ClientConfig{}
	cfg.FillDefault()
	return cfg
}

func (c *ClientConfig) FillDefault() {
	defaulter.LessOrEqual(&c.ConnectTimeout, defaultConnectTimeout)
	defaulter.LessOrEqual(&c.ScanTimeoutInterval, defaultScanTimeoutInterval)
	defaulter.LessOrEqual(&c.ReconnectInterval, defaultReconnectInterval)
	defaulter.LessOrEqual(&c.MaxReconnectAttempts, defaultMaxReconnectAttempts)
	defaulter.LessOrEqual(&c.ReplyQueueSize, defaultReplyQueueSize)
	defaulter.LessOrEqual(&c.OnewayThrottleBytes, int64(defaultOnewayThrottleBytes))
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = log.DefaultLogger()
	}
	if c.Transport == nil {
		c.Transport = &transport.Config{}
	}
	if c.Transport.Logger == nil {
		c.Transport.Logger = c.Logger
	}
	c.Transport.FillDefault()
}

// ServerConfig remoting server config.
type ServerConfig struct {
	Address          string            `json:"address" yaml:"address" validate:"required"`
	Transport        *transport.Config `json:"transport" yaml:"transport"`
	HandlerWorkers   int               `json:"handler_workers" yaml:"handler_workers"`
	HandlerQueueSize int               `json:"handler_queue_size" yaml:"handler_queue_size"`
	StatInterval     time.Duration     `json:"stat_interval" yaml:"stat_interval"`

	Logger log.Logger `json:"-" yaml:"-"`
}

func (c *ServerConfig) FillDefault() {
	defaulter.LessOrEqual(&c.HandlerWorkers, defaultHandlerWorkers)
	defaulter.LessOrEqual(&c.HandlerQueueSize, defaultHandlerQueueSize)
	defaulter.LessOrEqual(&c.StatInterval, defaultStatInterval)
	if c.Logger == nil {
		c.Logger = log.DefaultLogger()
	}
	if c.Transport == nil {
		c.Transport = &transport.Config{}
	}
	if c.Transport.Logger == nil {
		c.Transport.Logger = c.Logger
	}
	c.Transport.FillDefault()
}

func (c *ServerConfig) verify() error {
	if c.Address == "" {
		return errors.New("remoting: server address required")
	}
	return transport.VerifyConfig(c.Transport)
}
