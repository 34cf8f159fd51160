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
	"bytes"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testHandler struct {
	mu       sync.Mutex
	messages [][]byte
	msgCh    chan []byte
	closed   int32
	closeErr error
	closeCh  chan struct{}
}

func newTestHandler() *testHandler {
	return &testHandler{
		msgCh:   make(chan []byte, 1<<12),
		closeCh: make(chan struct{}),
	}
}

func (h *testHandler) OnMessage(c *Connection, msg []byte) {
	h.msgCh <- msg
}

func (h *testHandler) OnClosed(c *Connection, err error) {
	if atomic.AddInt32(&h.closed, 1) == 1 {
		h.mu.Lock()
		h.closeErr = err
		h.mu.Unlock()
		close(h.closeCh)
	}
}

func (h *testHandler) waitClosed(t *testing.T) error {
	select {
	case <-h.closeCh:
	case <-time.After(5 * time.Second):
		t.Fatal("wait closed timeout")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeErr
}

func testConfig() *Config {
	cfg := &Config{MaxPacketSize: 256, ReceiveBufferSize: 128, MaxFrameSize: 1 << 20}
	cfg.FillDefault()
	return cfg
}

func newPipe(t *testing.T) (*Connection, *testHandler, *Connection, *testHandler) {
	a, b := net.Pipe()
	ha, hb := newTestHandler(), newTestHandler()
	ca := NewConnection(a, testConfig(), ha)
	cb := NewConnection(b, testConfig(), hb)
	ca.Start()
	cb.Start()
	return ca, ha, cb, hb
}

func TestConnectionSendOrder(t *testing.T) {
	ca, ha, cb, hb := newPipe(t)
	defer ca.Close()
	defer cb.Close()

	const n = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ii := 0; ii < n; ii++ {
			size := 1 + ii%600 // some frames exceed the packet size
			msg := append([]byte(fmt.Sprintf("%06d", ii)), bytes.Repeat([]byte{'x'}, size)...)
			require.NoError(t, ca.Send(msg))
		}
	}()

	for ii := 0; ii < n; ii++ {
		select {
		case msg := <-hb.msgCh:
			require.Equal(t, fmt.Sprintf("%06d", ii), string(msg[:6]))
			require.Equal(t, 6+1+ii%600, len(msg))
		case <-time.After(5 * time.Second):
			t.Fatalf("wait message %d timeout", ii)
		}
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		return ca.PendingSendCount() == 0 && ca.PendingSendBytes() == 0
	}, 5*time.Second, time.Millisecond)
	require.Len(t, ha.msgCh, 0)
}

func TestConnectionBothDirections(t *testing.T) {
	ca, ha, cb, hb := newPipe(t)
	defer ca.Close()
	defer cb.Close()

	require.NoError(t, ca.Send([]byte("ping")))
	require.Equal(t, []byte("ping"), <-hb.msgCh)
	require.NoError(t, cb.Send([]byte("pong")))
	require.Equal(t, []byte("pong"), <-ha.msgCh)
	require.NotEmpty(t, ca.ID())
	require.NotEqual(t, ca.ID(), cb.ID())
	require.Contains(t, ca.String(), ca.ID())
}

func TestConnectionClose(t *testing.T) {
	ca, ha, cb, hb := newPipe(t)

	require.ErrorIs(t, ca.Send(nil), ErrEmptyMessage)
	require.ErrorIs(t, ca.Send(make([]byte, 2<<20)), ErrFrameTooLarge)

	for ii := 0; ii < 3; ii++ {
		require.NoError(t, ca.Close())
	}
	require.NoError(t, ha.waitClosed(t))
	require.True(t, ca.IsClosed())
	require.ErrorIs(t, ca.Send([]byte("x")), ErrConnectionClosed)

	// peer sees the socket error
	require.Error(t, hb.waitClosed(t))
	require.True(t, cb.IsClosed())
	<-cb.Done()
	require.Equal(t, int32(1), atomic.LoadInt32(&ha.closed))
	require.Equal(t, int32(1), atomic.LoadInt32(&hb.closed))
}

func TestConnectionProtocolError(t *testing.T) {
	a, b := net.Pipe()
	hb := newTestHandler()
	cb := NewConnection(b, testConfig(), hb)
	cb.Start()

	go a.Write([]byte{0, 0, 0, 0}) // nolint: errcheck
	require.ErrorIs(t, hb.waitClosed(t), ErrInvalidFrameLength)
	a.Close()
}

func TestVerifyConfig(t *testing.T) {
	require.NoError(t, VerifyConfig(DefaultConfig()))
	require.Error(t, VerifyConfig(&Config{MaxPacketSize: 2}))
	require.Error(t, VerifyConfig(&Config{MaxPacketSize: 100}))
	require.Error(t, VerifyConfig(&Config{MaxPacketSize: 100, ReceiveBufferSize: 10}))

	cfg := testConfig()
	require.Equal(t, 256, cfg.Pool.BufferSize())
	cfg.ReceiveBufferSize = 1024
	require.Error(t, VerifyConfig(cfg))
}
