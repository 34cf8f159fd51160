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

package bytespool

import (
	"fmt"
	"sync"
)

// PoolStats snapshot of a BufferPool.
type PoolStats struct {
	BufferSize int
	Generation uint32
	Allocated  int
	Idle       int
	InUse      int
	Watermark  int
}

func (s PoolStats) String() string {
	return fmt.Sprintf("size:%d gen:%d allocated:%d idle:%d inuse:%d watermark:%d",
		s.BufferSize, s.Generation, s.Allocated, s.Idle, s.InUse, s.Watermark)
}

// BufferPool hands out fixed size buffers. A buffer is owned by exactly
// one caller between Acquire and Release; releasing a buffer which is
// not lent out is ignored.
//
// The pool grows by one batch per generation when it runs dry. Shrink
// keeps an exponential moving average of the in-use peak as watermark
// and drops idle buffers above it.
type BufferPool struct {
	size  int
	batch int

	mu         sync.Mutex
	idle       [][]byte
	lent       map[*byte]struct{}
	generation uint32
	allocated  int
	peak       int
	watermark  int
}

// NewBufferPool returns pool of buffers with size bytes, growing batch
// buffers at a time.
func NewBufferPool(size, batch int) *BufferPool {
	if size <= 0 {
		panic("bytespool: buffer size must be positive")
	}
	if batch <= 0 {
		batch = 1
	}
	return &BufferPool{
		size:  size,
		batch: batch,
		lent:  make(map[*byte]struct{}),
	}
}

// BufferSize returns size of each buffer.
func (p *BufferPool) BufferSize() int { return p.size }

// Acquire returns a buffer of BufferSize bytes.
func (p *BufferPool) Acquire() []byte {
	p.mu.Lock()
	if len(p.idle) == 0 {
		p.grow()
	}
	n := len(p.idle) - 1
	b := p.idle[n]
	p.idle[n] = nil
	p.idle = p.idle[:n]
	p.lent[&b[0]] = struct{}{}
	if inuse := len(p.lent); inuse > p.peak {
		p.peak = inuse
	}
	p.mu.Unlock()
	return b
}

func (p *BufferPool) grow() {
	p.generation++
	for ii := 0; ii < p.batch; ii++ {
		p.idle = append(p.idle, make([]byte, p.size))
	}
	p.allocated += p.batch
}

// Release gives b back, returns false if b was not lent by this pool.
func (p *BufferPool) Release(b []byte) bool {
	if cap(b) < p.size {
		return false
	}
	b = b[:p.size]
	key := &b[0]

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.lent[key]; !ok {
		return false
	}
	delete(p.lent, key)
	p.idle = append(p.idle, b)
	return true
}

// Shrink drops idle buffers above the watermark, returns the number dropped.
func (p *BufferPool) Shrink() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.watermark = ema(p.peak, p.watermark)
	inuse := len(p.lent)
	p.peak = inuse

	keep := p.watermark*13/10 - inuse
	if keep < p.batch {
		keep = p.batch
	}
	drop := len(p.idle) - keep
	if drop <= 0 {
		return 0
	}
	for ii := keep; ii < len(p.idle); ii++ {
		p.idle[ii] = nil
	}
	p.idle = p.idle[:keep]
	p.allocated -= drop
	return drop
}

// Stats returns current counters.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		BufferSize: p.size,
		Generation: p.generation,
		Allocated:  p.allocated,
		Idle:       len(p.idle),
		InUse:      len(p.lent),
		Watermark:  p.watermark,
	}
}

func ema(val, lastVal int) int {
	return (val*2 + lastVal*8) / 10
}
