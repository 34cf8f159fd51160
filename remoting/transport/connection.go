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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cubefs/infrakit/util/bytespool"
	"github.com/cubefs/infrakit/util/log"
)

var (
	ErrConnectionClosed = errors.New("transport: connection closed")
	ErrEmptyMessage     = errors.New("transport: empty message")
)

// Handler receives events of a connection. OnMessage is called from the
// receive goroutine in stream order, OnClosed exactly once.
type Handler interface {
	OnMessage(c *Connection, msg []byte)
	OnClosed(c *Connection, err error)
}

type frame struct {
	header  [headerSize]byte
	payload []byte
}

func (f *frame) size() int { return headerSize + len(f.payload) }

// Connection is a framed message connection over a stream socket.
//
// Send only queues the frame; a single drain goroutine at a time,
// guarded by the sending flag, writes the queue in order, coalescing
// small frames into one pooled buffer per write.
type Connection struct {
	id      string
	conn    net.Conn
	config  *Config
	pool    *bytespool.BufferPool
	handler Handler
	logger  log.Logger
	parser  *Parser

	mu           sync.Mutex
	queue        []*frame
	pendingCount int64
	pendingBytes int64
	sending      int32

	closed  int32
	closeCh chan struct{}
}

// NewConnection wraps conn, call Start to begin receiving.
func NewConnection(conn net.Conn, config *Config, handler Handler) *Connection {
	if config == nil {
		config = DefaultConfig()
	} else if config.Pool == nil || config.Logger == nil {
		config.FillDefault()
	}
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		config:  config,
		pool:    config.Pool,
		handler: handler,
		logger:  config.Logger,
		closeCh: make(chan struct{}),
	}
	c.parser = NewParser(config.MaxFrameSize, c.onFrame, c.logger)
	connMetric.Inc()
	return c
}

func (c *Connection) ID() string           { return c.id }
func (c *Connection) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Connection) String() string {
	return fmt.Sprintf("conn(%s %s->%s)", c.id, c.conn.LocalAddr(), c.conn.RemoteAddr())
}

// Start launches the receive loop.
func (c *Connection) Start() {
	go c.recvLoop()
}

// Done is closed after the connection closed.
func (c *Connection) Done() <-chan struct{} { return c.closeCh }

func (c *Connection) IsClosed() bool { return atomic.LoadInt32(&c.closed) == 1 }

// PendingSendCount returns frames queued or being written.
func (c *Connection) PendingSendCount() int64 { return atomic.LoadInt64(&c.pendingCount) }

// PendingSendBytes returns bytes queued or being written, headers included.
func (c *Connection) PendingSendBytes() int64 { return atomic.LoadInt64(&c.pendingBytes) }

// Send queues payload as one frame and returns without waiting the
// write. payload must not be modified until the connection is done
// with it, which is never observable by the caller, so pass a buffer
// the caller will not reuse.
func (c *Connection) Send(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyMessage
	}
	if len(payload) > c.config.MaxFrameSize {
		return ErrFrameTooLarge
	}
	f := &frame{payload: payload}
	binary.LittleEndian.PutUint32(f.header[:], uint32(len(payload)))

	c.mu.Lock()
	if c.IsClosed() {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.queue = append(c.queue, f)
	atomic.AddInt64(&c.pendingCount, 1)
	atomic.AddInt64(&c.pendingBytes, int64(f.size()))
	c.mu.Unlock()

	c.trySend()
	return nil
}

func (c *Connection) trySend() {
	if atomic.CompareAndSwapInt32(&c.sending, 0, 1) {
		go c.drain()
	}
}

func (c *Connection) drain() {
	for {
		frames, size := c.take()
		if len(frames) == 0 {
			atomic.StoreInt32(&c.sending, 0)
			// a Send may have queued after take and seen the flag set
			if c.queuedLen() == 0 || !atomic.CompareAndSwapInt32(&c.sending, 0, 1) {
				return
			}
			continue
		}

		err := c.write(frames, size)
		atomic.AddInt64(&c.pendingCount, -int64(len(frames)))
		atomic.AddInt64(&c.pendingBytes, -int64(size))
		if err != nil {
			atomic.StoreInt32(&c.sending, 0)
			c.closeWithError(err)
			return
		}
	}
}

func (c *Connection) queuedLen() int {
	c.mu.Lock()
	n := len(c.queue)
	c.mu.Unlock()
	return n
}

func (c *Connection) packetSize() int {
	size := c.config.MaxPacketSize
	if ps := c.pool.BufferSize(); ps < size {
		size = ps
	}
	return size
}

// take dequeues the head frames fitting in one packet, at least one.
func (c *Connection) take() ([]*frame, int) {
	maxSize := c.packetSize()

	c.mu.Lock()
	defer c.mu.Unlock()
	n, size := 0, 0
	for n < len(c.queue) {
		fs := c.queue[n].size()
		if n > 0 && size+fs > maxSize {
			break
		}
		size += fs
		n++
	}
	if n == 0 {
		return nil, 0
	}
	frames := make([]*frame, n)
	copy(frames, c.queue[:n])
	rest := copy(c.queue, c.queue[n:])
	for ii := rest; ii < len(c.queue); ii++ {
		c.queue[ii] = nil
	}
	c.queue = c.queue[:rest]
	return frames, size
}

func (c *Connection) write(frames []*frame, size int) (err error) {
	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)) // nolint: errcheck
	}

	if size > c.packetSize() {
		// one oversize frame, written without copy
		bufs := net.Buffers{frames[0].header[:], frames[0].payload}
		_, err = bufs.WriteTo(c.conn)
	} else {
		buf := c.pool.Acquire()
		off := 0
		for _, f := range frames {
			off += copy(buf[off:], f.header[:])
			off += copy(buf[off:], f.payload)
		}
		var n int
		n, err = c.conn.Write(buf[:off])
		if err == nil && n != off {
			err = io.ErrShortWrite
		}
		c.pool.Release(buf)
	}
	if err == nil {
		reportSend(len(frames), size)
	}
	return
}

func (c *Connection) recvLoop() {
	readSize := c.config.ReceiveBufferSize
	for {
		buf := c.pool.Acquire()
		n, err := c.conn.Read(buf[:readSize])
		if n > 0 {
			reportRecv(n)
			if perr := c.parser.Feed(buf[:n]); perr != nil {
				c.pool.Release(buf)
				c.logger.Errorf("%s protocol error: %s", c, perr)
				c.closeWithError(perr)
				return
			}
		}
		c.pool.Release(buf)
		if err != nil {
			c.closeWithError(err)
			return
		}
	}
}

func (c *Connection) onFrame(msg []byte) {
	reportFrameIn()
	c.handler.OnMessage(c, msg)
}

// Close closes the connection, OnClosed gets a nil error.
func (c *Connection) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Connection) closeWithError(err error) {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}

	c.mu.Lock()
	dropped := c.queue
	c.queue = nil
	c.mu.Unlock()
	droppedBytes := 0
	for _, f := range dropped {
		droppedBytes += f.size()
	}
	atomic.AddInt64(&c.pendingCount, -int64(len(dropped)))
	atomic.AddInt64(&c.pendingBytes, -int64(droppedBytes))

	c.conn.Close()
	close(c.closeCh)
	connMetric.Dec()

	if err == nil || err == io.EOF || errors.Is(err, net.ErrClosed) {
		c.logger.Infof("%s closed: %v, dropped %d frames", c, err, len(dropped))
	} else {
		c.logger.Warnf("%s closed on error: %v, dropped %d frames", c, err, len(dropped))
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("%s closed callback panic: %v\n%s", c, r, debug.Stack())
		}
	}()
	c.handler.OnClosed(c, err)
}
