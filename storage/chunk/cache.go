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
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// CacheMode how a completed chunk is cached in memory.
type CacheMode int

const (
	// CacheModeMemory copies data into a heap buffer.
	CacheModeMemory CacheMode = iota + 1
	// CacheModeMmap maps the file, memory not managed by the runtime.
	CacheModeMmap
)

func (m CacheMode) String() string {
	switch m {
	case CacheModeMemory:
		return "memory"
	case CacheModeMmap:
		return "mmap"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseCacheMode(s string) (CacheMode, error) {
	switch strings.ToLower(s) {
	case "", "memory":
		return CacheModeMemory, nil
	case "mmap", "unmanaged":
		return CacheModeMmap, nil
	default:
		return 0, fmt.Errorf("chunk: unknown cache mode %q", s)
	}
}

var errCacheReleased = errors.New("chunk: cache released")

// cache data of a completed chunk. Readers hold the read lock so
// release waits them before the memory goes away.
type cache struct {
	mode CacheMode

	mu       sync.RWMutex
	released bool
	data     []byte
	mapped   mmap.MMap
}

func newCache(f *os.File, mode CacheMode, dataSize int64) (*cache, error) {
	switch mode {
	case CacheModeMemory:
		data := make([]byte, dataSize)
		if _, err := f.ReadAt(data, HeaderSize); err != nil {
			return nil, err
		}
		return &cache{mode: mode, data: data}, nil
	case CacheModeMmap:
		m, err := mmap.MapRegion(f, int(HeaderSize+dataSize), mmap.RDONLY, 0, 0)
		if err != nil {
			return nil, err
		}
		return &cache{mode: mode, mapped: m, data: m[HeaderSize : HeaderSize+dataSize]}, nil
	default:
		return nil, fmt.Errorf("chunk: unknown cache mode %d", int(mode))
	}
}

// readAt returns a copy of a framed record payload at pos.
func (c *cache) readAt(pos, dataLen int64) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return nil, errCacheReleased
	}
	if pos+4 > dataLen || dataLen > int64(len(c.data)) {
		return nil, ErrCorruptRecord
	}
	n := int64(int32(le.Uint32(c.data[pos:])))
	if n <= 0 || pos+recordFrameSize+n > dataLen {
		return nil, ErrCorruptRecord
	}
	start := pos + 4
	if int64(int32(le.Uint32(c.data[start+n:]))) != n {
		return nil, ErrCorruptRecord
	}
	payload := make([]byte, n)
	copy(payload, c.data[start:start+n])
	return payload, nil
}

func (c *cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *cache) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	c.data = nil
	if c.mapped != nil {
		m := c.mapped
		c.mapped = nil
		return m.Unmap()
	}
	return nil
}
