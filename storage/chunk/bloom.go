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
	"math"
	"sync"

	"github.com/cubefs/infrakit/util/bloom"
)

const (
	bloomFilterVersion uint16 = 1
	// version(2) minLen(2) maxLen(2) filterLen(4)
	bloomFilterFixedSize = 2 + 2 + 2 + 4
)

// ChunkBloomFilter bloom filter block of a completed chunk, it has
// the key range and the serialized filter of keyed records.
//
//	[version:u16][minLen:u16][min][maxLen:u16][max][filterLen:u32][filter][zero padding to Size]
type ChunkBloomFilter struct {
	Size        int64
	Version     uint16
	MinKey      string
	MaxKey      string
	FilterBytes []byte

	once   sync.Once
	filter *bloom.BloomFilter
}

// NewChunkBloomFilter returns filter fitting a block of size bytes.
func NewChunkBloomFilter(size int64, minKey, maxKey string, filter []byte) (*ChunkBloomFilter, error) {
	if len(minKey) > math.MaxUint16 || len(maxKey) > math.MaxUint16 || int64(len(filter)) > math.MaxUint32 {
		return nil, ErrBloomFilterOversize
	}
	f := &ChunkBloomFilter{
		Size:        size,
		Version:     bloomFilterVersion,
		MinKey:      minKey,
		MaxKey:      maxKey,
		FilterBytes: filter,
	}
	if f.ContentSize() > size {
		return nil, ErrBloomFilterOversize
	}
	return f, nil
}

// ContentSize returns serialized bytes without padding.
func (f *ChunkBloomFilter) ContentSize() int64 {
	return int64(bloomFilterFixedSize + len(f.MinKey) + len(f.MaxKey) + len(f.FilterBytes))
}

// Marshal returns the block of Size bytes.
func (f *ChunkBloomFilter) Marshal() []byte {
	buf := make([]byte, f.Size)
	le.PutUint16(buf[0:], f.Version)
	off := 2
	le.PutUint16(buf[off:], uint16(len(f.MinKey)))
	off += 2
	off += copy(buf[off:], f.MinKey)
	le.PutUint16(buf[off:], uint16(len(f.MaxKey)))
	off += 2
	off += copy(buf[off:], f.MaxKey)
	le.PutUint32(buf[off:], uint32(len(f.FilterBytes)))
	off += 4
	copy(buf[off:], f.FilterBytes)
	return buf
}

// UnmarshalChunkBloomFilter parses a block, padding is ignored.
func UnmarshalChunkBloomFilter(buf []byte) (*ChunkBloomFilter, error) {
	if len(buf) < bloomFilterFixedSize {
		return nil, ErrInvalidBloomFilter
	}
	f := &ChunkBloomFilter{Size: int64(len(buf)), Version: le.Uint16(buf)}
	if f.Version != bloomFilterVersion {
		return nil, ErrInvalidBloomFilter
	}
	off := 2
	var ok bool
	if f.MinKey, off, ok = readKey(buf, off); !ok {
		return nil, ErrInvalidBloomFilter
	}
	if f.MaxKey, off, ok = readKey(buf, off); !ok {
		return nil, ErrInvalidBloomFilter
	}
	if len(buf) < off+4 {
		return nil, ErrInvalidBloomFilter
	}
	n := int(le.Uint32(buf[off:]))
	off += 4
	if n < 0 || len(buf) < off+n {
		return nil, ErrInvalidBloomFilter
	}
	f.FilterBytes = append([]byte(nil), buf[off:off+n]...)
	return f, nil
}

func readKey(buf []byte, off int) (string, int, bool) {
	if len(buf) < off+2 {
		return "", off, false
	}
	n := int(le.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+n {
		return "", off, false
	}
	return string(buf[off : off+n]), off + n, true
}

// InRange returns true if key is within [MinKey, MaxKey].
func (f *ChunkBloomFilter) InRange(key string) bool {
	return key >= f.MinKey && key <= f.MaxKey
}

// MayContain returns false only if key is surely not in the chunk.
func (f *ChunkBloomFilter) MayContain(key string) bool {
	if !f.InRange(key) {
		return false
	}
	f.once.Do(func() {
		filter, err := bloom.Unmarshal(f.FilterBytes)
		if err == nil {
			f.filter = filter
		}
	})
	if f.filter == nil {
		// no usable filter, only the range is known
		return true
	}
	return f.filter.TestKey(key)
}
