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

// Package bytespool pools byte slices. Alloc/Free serve variable sized
// scratch buffers from size classes; BufferPool serves fixed size I/O
// buffers with tracked ownership.
package bytespool

import "sync"

const (
	minClass = 1 << 9  // 512B
	maxClass = 1 << 22 // 4M
	zeroSize = 1 << 14
)

type sizeClass struct {
	size int
	pool sync.Pool
}

var (
	zero    = make([]byte, zeroSize)
	classes []*sizeClass
)

func init() {
	for size := minClass; size <= maxClass; size <<= 1 {
		c := &sizeClass{size: size}
		c.pool.New = func() interface{} {
			return make([]byte, c.size)
		}
		classes = append(classes, c)
	}
}

func classOf(size int) *sizeClass {
	for _, c := range classes {
		if size <= c.size {
			return c
		}
	}
	return nil
}

// Alloc returns a bytes slice of length size, oversize slices are
// made and never pooled.
func Alloc(size int) []byte {
	if c := classOf(size); c != nil {
		return c.pool.Get().([]byte)[:size]
	}
	return make([]byte, size)
}

// Free returns b to the largest class it covers. b must not be used
// after Free.
func Free(b []byte) {
	size := cap(b)
	if size < minClass || size > maxClass {
		return
	}
	for ii := len(classes) - 1; ii >= 0; ii-- {
		if size >= classes[ii].size {
			classes[ii].pool.Put(b[:classes[ii].size]) // nolint: staticcheck
			return
		}
	}
}

// Zero clean up the bytes slice b to zero.
func Zero(b []byte) {
	for len(b) > 0 {
		n := copy(b, zero)
		b = b[n:]
	}
}
