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

	"github.com/cubefs/infrakit/remoting"
	"github.com/cubefs/infrakit/storage"
	"github.com/cubefs/infrakit/util/config"
	"github.com/cubefs/infrakit/util/defaulter"
	"github.com/cubefs/infrakit/util/log"
)

const defaultRequestTimeout = 5 * time.Second

// Config of a storage node and of the client commands talking to it.
type Config struct {
	Log     log.LogConfig         `json:"log" yaml:"log"`
	Server  remoting.ServerConfig `json:"server" yaml:"server"`
	Client  remoting.ClientConfig `json:"client" yaml:"client"`
	Storage storage.Config        `json:"storage" yaml:"storage"`
	// MetricsAddr serves /metrics if not empty.
	MetricsAddr    string        `json:"metrics_addr" yaml:"metrics_addr"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	Logger log.Logger `json:"-" yaml:"-"`
}

// LoadConfig loads JSON or YAML config file.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := config.LoadFile(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillDefault() {
	defaulter.LessOrEqual(&c.RequestTimeout, defaultRequestTimeout)
	if c.Logger == nil {
		c.Logger = log.DefaultLogger()
	}
	if c.Server.Logger == nil {
		c.Server.Logger = c.Logger
	}
	if c.Client.Logger == nil {
		c.Client.Logger = c.Logger
	}
	if c.Storage.Logger == nil {
		c.Storage.Logger = c.Logger
	}
}
