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

package chunk

import (
	"github.com/benbjohnson/clock"

	"github.com/cubefs/infrakit/util/defaulter"
	"github.com/cubefs/infrakit/util/log"
)

const (
	defaultDataSize            = 256 << 20
	defaultFilterItems         = 1 << 20
	defaultFilterFalsePositive = 0.01
)

// Config of chunks of one manager.
type Config struct {
	ChunkType int32 `json:"chunk_type" yaml:"chunk_type"`
	DataSize  int64 `json:"data_size" yaml:"data_size"`
	// FilterSize bytes reserved for the bloom filter block, no filter if zero.
	FilterSize          int64   `json:"filter_size" yaml:"filter_size"`
	FilterItems         uint    `json:"filter_items" yaml:"filter_items"`
	FilterFalsePositive float64 `json:"filter_false_positive" yaml:"filter_false_positive"`
	SyncOnWrite         bool    `json:"sync_on_write" yaml:"sync_on_write"`

	// RecordFactory rebuilds keys of keyed records when reopening an
	// active chunk, optional.
	RecordFactory RecordFactory `json:"-" yaml:"-"`
	Clock         clock.Clock   `json:"-" yaml:"-"`
	Logger        log.Logger    `json:"-" yaml:"-"`
}

func (c *Config) FillDefault() {
	defaulter.LessOrEqual(&c.DataSize, int64(defaultDataSize))
	defaulter.Less(&c.FilterSize, int64(0))
	defaulter.LessOrEqual(&c.FilterItems, uint(defaultFilterItems))
	defaulter.LessOrEqual(&c.FilterFalsePositive, defaultFilterFalsePositive)
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = log.DefaultLogger()
	}
}
