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

package bloom

import (
	"bytes"
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter nil safe wrapper, a nil filter contains nothing.
type BloomFilter struct {
	*bloom.BloomFilter
}

func New(m uint, k uint) *BloomFilter {
	return &BloomFilter{BloomFilter: bloom.New(m, k)}
}

// NewWithEstimates sizes the filter for n items at false positive rate fp.
func NewWithEstimates(n uint, fp float64) *BloomFilter {
	return &BloomFilter{BloomFilter: bloom.NewWithEstimates(n, fp)}
}

func (b *BloomFilter) AddUint64(key uint64) {
	if b != nil {
		b.Add(uint64ToBytes(key))
	}
}

func (b *BloomFilter) TestUint64(key uint64) bool {
	if b == nil {
		return false
	}
	return b.Test(uint64ToBytes(key))
}

func (b *BloomFilter) AddKey(key string) {
	if b != nil {
		b.AddString(key)
	}
}

func (b *BloomFilter) TestKey(key string) bool {
	if b == nil {
		return false
	}
	return b.TestString(key)
}

// Marshal returns the binary form of the filter.
func (b *BloomFilter) Marshal() ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	if _, err := b.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal restores a filter from Marshal output, empty data is a nil filter.
func Unmarshal(data []byte) (*BloomFilter, error) {
	if len(data) == 0 {
		return nil, nil
	}
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return &BloomFilter{BloomFilter: f}, nil
}

func uint64ToBytes(key uint64) (data []byte) {
	data = make([]byte, 8)
	binary.BigEndian.PutUint64(data[:], key)
	return
}
