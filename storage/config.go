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

package storage

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cubefs/infrakit/storage/chunk"
	"github.com/cubefs/infrakit/util/defaulter"
	"github.com/cubefs/infrakit/util/log"
)

const (
	defaultChunkDataSize       = 256 << 20
	defaultPreCacheChunkCount  = 2
	defaultMinCachedChunkCount = 2
	defaultMaxCachedChunkCount = 8
	defaultCacheIdleTimeout    = 5 * time.Minute
	defaultUncacheInterval     = 10 * time.Second
	defaultStatInterval        = 60 * time.Second
	defaultLoadConcurrency     = 8
	defaultFilePrefix          = "chunk-"
	defaultFileDigits          = 6
	defaultTempSuffix          = ".tmp"
)

// Config of a chunk manager.
type Config struct {
	BasePath                 string  `json:"base_path" yaml:"base_path" validate:"required"`
	ChunkDataSize            int64   `json:"chunk_data_size" yaml:"chunk_data_size"`
	ChunkType                int32   `json:"chunk_type" yaml:"chunk_type"`
	BloomFilterSize          int64   `json:"bloom_filter_size" yaml:"bloom_filter_size"`
	BloomFilterItems         uint    `json:"bloom_filter_items" yaml:"bloom_filter_items"`
	BloomFilterFalsePositive float64 `json:"bloom_filter_false_positive" yaml:"bloom_filter_false_positive"`
	SyncOnWrite              bool    `json:"sync_on_write" yaml:"sync_on_write"`
	LoadConcurrency          int     `json:"load_concurrency" yaml:"load_concurrency"`

	EnableCache bool `json:"enable_cache" yaml:"enable_cache"`
	// CacheMode memory or mmap.
	CacheMode           string        `json:"cache_mode" yaml:"cache_mode"`
	PreCacheChunkCount  int           `json:"pre_cache_chunk_count" yaml:"pre_cache_chunk_count"`
	MinCachedChunkCount int           `json:"min_cached_chunk_count" yaml:"min_cached_chunk_count"`
	MaxCachedChunkCount int           `json:"max_cached_chunk_count" yaml:"max_cached_chunk_count"`
	CacheIdleTimeout    time.Duration `json:"cache_idle_timeout" yaml:"cache_idle_timeout"`
	UncacheInterval     time.Duration `json:"uncache_interval" yaml:"uncache_interval"`
	StatInterval        time.Duration `json:"stat_interval" yaml:"stat_interval"`

	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
	FileDigits int    `json:"file_digits" yaml:"file_digits"`
	TempSuffix string `json:"temp_suffix" yaml:"temp_suffix"`

	Naming        FileNamingStrategy  `json:"-" yaml:"-"`
	RecordFactory chunk.RecordFactory `json:"-" yaml:"-"`
	Clock         clock.Clock         `json:"-" yaml:"-"`
	Logger        log.Logger          `json:"-" yaml:"-"`
}

// DefaultConfig returns a default config of chunks under basePath.
func DefaultConfig(basePath string) *Config {
	cfg := &Config{BasePath: basePath}
	cfg.FillDefault()
	return cfg
}

func (c *Config) FillDefault() {
	defaulter.LessOrEqual(&c.ChunkDataSize, int64(defaultChunkDataSize))
	defaulter.LessOrEqual(&c.LoadConcurrency, defaultLoadConcurrency)
	defaulter.Empty(&c.CacheMode, chunk.CacheModeMemory.String())
	defaulter.Less(&c.PreCacheChunkCount, defaultPreCacheChunkCount)
	defaulter.Less(&c.MinCachedChunkCount, defaultMinCachedChunkCount)
	defaulter.LessOrEqual(&c.MaxCachedChunkCount, defaultMaxCachedChunkCount)
	defaulter.LessOrEqual(&c.CacheIdleTimeout, defaultCacheIdleTimeout)
	defaulter.LessOrEqual(&c.UncacheInterval, defaultUncacheInterval)
	defaulter.LessOrEqual(&c.StatInterval, defaultStatInterval)
	defaulter.Empty(&c.FilePrefix, defaultFilePrefix)
	defaulter.LessOrEqual(&c.FileDigits, defaultFileDigits)
	defaulter.Empty(&c.TempSuffix, defaultTempSuffix)
	if c.Naming == nil {
		c.Naming = NewDefaultFileNamingStrategy(c.FilePrefix, c.FileDigits, c.TempSuffix)
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = log.DefaultLogger()
	}
}

func (c *Config) verify() error {
	if c.BasePath == "" {
		return errors.New("storage: base path required")
	}
	if c.MinCachedChunkCount > c.MaxCachedChunkCount {
		return errors.New("storage: min cached chunk count greater than max")
	}
	_, err := chunk.ParseCacheMode(c.CacheMode)
	return err
}

func (c *Config) chunkConfig() *chunk.Config {
	return &chunk.Config{
		ChunkType:           c.ChunkType,
		DataSize:            c.ChunkDataSize,
		FilterSize:          c.BloomFilterSize,
		FilterItems:         c.BloomFilterItems,
		FilterFalsePositive: c.BloomFilterFalsePositive,
		SyncOnWrite:         c.SyncOnWrite,
		RecordFactory:       c.RecordFactory,
		Clock:               c.Clock,
		Logger:              c.Logger,
	}
}
