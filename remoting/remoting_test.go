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

package remoting_test

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/infrakit/remoting"
	"github.com/cubefs/infrakit/remoting/proto"
	"github.com/cubefs/infrakit/remoting/transport"
	"github.com/cubefs/infrakit/testing/mocks"
	"github.com/cubefs/infrakit/util/scheduler"
)

const (
	codePing int16 = 42
	codeEcho int16 = 43
	codeHang int16 = 44
)

func newScheduler(t *testing.T) *scheduler.TaskScheduler {
	sched := scheduler.New(scheduler.Config{})
	t.Cleanup(sched.Stop)
	return sched
}

func newServer(t *testing.T, sched scheduler.Scheduler) *remoting.Server {
	srv := remoting.NewServer(&remoting.ServerConfig{Address: "127.0.0.1:0"}, sched)
	srv.RegisterHandler(codePing, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			if string(req.Body) != "ping" {
				return nil, errors.New("not ping")
			}
			return proto.NewResponse(req, 0, []byte("pong")), nil
		}))
	srv.RegisterHandler(codeEcho, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			return proto.NewResponse(req, 0, req.Body), nil
		}))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Shutdown)
	return srv
}

func newClient(t *testing.T, addr string, sched scheduler.Scheduler, cfg *remoting.ClientConfig) *remoting.Client {
	if cfg == nil {
		cfg = &remoting.ClientConfig{}
	}
	cli := remoting.NewClient(addr, cfg, sched)
	require.NoError(t, cli.Start())
	t.Cleanup(cli.Shutdown)
	return cli
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestPingPong(t *testing.T) {
	sched := newScheduler(t)
	srv := newServer(t, sched)
	cli := newClient(t, srv.Addr().String(), sched, nil)
	require.True(t, cli.IsConnected())

	start := time.Now()
	resp, err := cli.InvokeSync(proto.NewRequest(codePing, []byte("ping")), 5*time.Second)
	require.NoError(t, err)
	require.True(t, time.Since(start) < 5*time.Second)
	require.Equal(t, codePing, resp.RequestCode)
	require.Equal(t, int16(0), resp.ResponseCode)
	require.Equal(t, []byte("pong"), resp.Body)
	require.Equal(t, proto.RequestTypeAsync, resp.RequestType)
	require.Equal(t, 0, cli.PendingRequestCount())
}

func TestNoHandler(t *testing.T) {
	sched := newScheduler(t)
	srv := newServer(t, sched)
	cli := newClient(t, srv.Addr().String(), sched, nil)

	req := proto.NewRequest(7, []byte("anything"))
	resp, err := cli.InvokeSync(req, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, proto.ResponseCodeError, resp.ResponseCode)
	require.True(t, resp.IsError())
	require.Equal(t, int16(7), resp.RequestCode)
	require.Equal(t, req.Sequence, resp.RequestSequence)
	require.Contains(t, string(resp.Body), "no request handler")
}

func TestHandlerErrorAndPanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := mocks.NewMockRequestHandler(ctrl)
	gomock.InOrder(
		handler.EXPECT().HandleRequest(gomock.Any(), gomock.Any()).Return(nil, errors.New("disk broken")),
		handler.EXPECT().HandleRequest(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
				panic("handler bug")
			}),
		handler.EXPECT().HandleRequest(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
				if ctx.Connection() == nil {
					return nil, errors.New("no connection")
				}
				return proto.NewResponse(req, 1, []byte("ok")), nil
			}),
	)

	sched := newScheduler(t)
	srv := newServer(t, sched)
	srv.RegisterHandler(100, handler)
	cli := newClient(t, srv.Addr().String(), sched, nil)

	resp, err := cli.InvokeSync(proto.NewRequest(100, nil), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, proto.ResponseCodeError, resp.ResponseCode)
	require.Equal(t, "disk broken", string(resp.Body))

	resp, err = cli.InvokeSync(proto.NewRequest(100, nil), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, proto.ResponseCodeError, resp.ResponseCode)
	require.Contains(t, string(resp.Body), "handler bug")

	resp, err = cli.InvokeSync(proto.NewRequest(100, nil), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, int16(1), resp.ResponseCode)
	require.Equal(t, "ok", string(resp.Body))
}

func TestConcurrentInvokeNoCrossTalk(t *testing.T) {
	sched := newScheduler(t)
	srv := newServer(t, sched)
	cli := newClient(t, srv.Addr().String(), sched, &remoting.ClientConfig{
		Transport: &transport.Config{MaxPacketSize: 1 << 10},
	})

	const n = 200
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for ii := 0; ii < n; ii++ {
		wg.Add(1)
		go func(ii int) {
			defer wg.Done()
			body := bytes.Repeat([]byte(fmt.Sprintf("%d,", ii)), ii%64+1)
			req := proto.NewRequest(codeEcho, body)
			future, err := cli.InvokeAsync(req, 5*time.Second)
			if err != nil {
				errCh <- err
				return
			}
			resp, err := future.Result()
			if err != nil {
				errCh <- err
				return
			}
			if resp.RequestSequence != req.Sequence || !bytes.Equal(resp.Body, body) {
				errCh <- fmt.Errorf("request %d got response %s", req.Sequence, resp)
			}
		}(ii)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	require.Equal(t, 0, cli.PendingRequestCount())
}

func TestTimeoutAndLateResponse(t *testing.T) {
	release := make(chan struct{})
	sched := newScheduler(t)
	srv := newServer(t, sched)
	srv.RegisterHandler(codeHang, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			<-release
			return proto.NewResponse(req, 0, []byte("late")), nil
		}))

	const (
		timeout = 200 * time.Millisecond
		scan    = 100 * time.Millisecond
	)
	cli := newClient(t, srv.Addr().String(), sched, &remoting.ClientConfig{ScanTimeoutInterval: scan})

	req := proto.NewRequest(codeHang, nil)
	sent := time.Now()
	future, err := cli.InvokeAsync(req, timeout)
	require.NoError(t, err)
	require.Equal(t, 1, cli.PendingRequestCount())

	select {
	case <-future.Done():
	case <-time.After(timeout + scan + time.Second):
		t.Fatal("request not failed by timeout scanner")
	}
	elapsed := time.Since(sent)
	require.True(t, elapsed >= timeout, elapsed)

	resp, err := future.Result()
	require.Nil(t, resp)
	require.True(t, remoting.IsTimeout(err))
	var ie *remoting.InvokeError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, remoting.CauseNotCompleted, ie.Cause)
	require.Equal(t, req, ie.Request)
	require.Equal(t, timeout, ie.Timeout)
	require.Equal(t, srv.Addr().String(), ie.Addr)
	require.Equal(t, 0, cli.PendingRequestCount())

	// late response is dropped, the outcome stays the timeout
	close(release)
	resp, err = cli.InvokeSync(proto.NewRequest(codePing, []byte("ping")), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", string(resp.Body))
	_, err = future.Result()
	require.True(t, remoting.IsTimeout(err))
}

func TestInvokeSyncTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	sched := newScheduler(t)
	srv := newServer(t, sched)
	srv.RegisterHandler(codeHang, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			<-release
			return nil, nil
		}))
	cli := newClient(t, srv.Addr().String(), sched, &remoting.ClientConfig{ScanTimeoutInterval: time.Hour})

	_, err := cli.InvokeSync(proto.NewRequest(codeHang, nil), 50*time.Millisecond)
	var ie *remoting.InvokeError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, remoting.CauseNotCompleted, ie.Cause)
	require.ErrorIs(t, err, remoting.ErrTimeout)
	require.Equal(t, 0, cli.PendingRequestCount())
}

func hangServer(t *testing.T, sched scheduler.Scheduler) (*remoting.Server, *connEvents, chan struct{}) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := newServer(t, sched)
	t.Cleanup(func() { close(release) })
	events := &connEvents{}
	srv.RegisterConnectionListener(events)
	srv.RegisterHandler(codeHang, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			entered <- struct{}{}
			<-release
			return proto.NewResponse(req, 0, nil), nil
		}))
	return srv, events, entered
}

func invokeHang(cli *remoting.Client, entered chan struct{}) (chan error, error) {
	errC := make(chan error, 1)
	go func() {
		_, err := cli.InvokeSync(proto.NewRequest(codeHang, nil), 10*time.Second)
		errC <- err
	}()
	select {
	case <-entered:
		return errC, nil
	case err := <-errC:
		return nil, err
	case <-time.After(5 * time.Second):
		return nil, errors.New("request not handled")
	}
}

func TestInvokeSyncFaultedByShutdown(t *testing.T) {
	sched := newScheduler(t)
	srv, _, entered := hangServer(t, sched)
	cli := newClient(t, srv.Addr().String(), sched, &remoting.ClientConfig{ScanTimeoutInterval: time.Hour})

	errC, err := invokeHang(cli, entered)
	require.NoError(t, err)
	require.Equal(t, 1, cli.PendingRequestCount())
	cli.Shutdown()

	select {
	case err = <-errC:
	case <-time.After(5 * time.Second):
		t.Fatal("request not failed by shutdown")
	}
	var ie *remoting.InvokeError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, remoting.CauseFaulted, ie.Cause)
	require.Equal(t, srv.Addr().String(), ie.Addr)
	require.Equal(t, codeHang, ie.Request.Code)
	require.ErrorIs(t, err, remoting.ErrClientShutdown)
	require.False(t, remoting.IsTimeout(err))
	require.Equal(t, 0, cli.PendingRequestCount())
}

func TestInvokeSyncNilResponseOnClose(t *testing.T) {
	sched := newScheduler(t)
	srv, events, entered := hangServer(t, sched)
	cli := newClient(t, srv.Addr().String(), sched, &remoting.ClientConfig{
		ScanTimeoutInterval: time.Hour,
		ReconnectInterval:   20 * time.Millisecond,
	})

	errC, err := invokeHang(cli, entered)
	require.NoError(t, err)
	conns, _, _ := events.snapshot()
	require.Len(t, conns, 1)
	conns[0].Close()

	select {
	case err = <-errC:
	case <-time.After(5 * time.Second):
		t.Fatal("request not completed by close")
	}
	var ie *remoting.InvokeError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, remoting.CauseNilResponse, ie.Cause)
	require.ErrorIs(t, err, remoting.ErrNilResponse)
	require.Equal(t, 0, cli.PendingRequestCount())

	// async callers see neither response nor error
	require.Eventually(t, cli.IsConnected, 5*time.Second, 10*time.Millisecond)
	future, err := cli.InvokeAsync(proto.NewRequest(codeHang, nil), 10*time.Second)
	require.NoError(t, err)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request not handled")
	}
	conns, _, _ = events.snapshot()
	require.Len(t, conns, 2)
	conns[1].Close()
	select {
	case <-future.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future not completed by close")
	}
	resp, err := future.Result()
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestTimeoutScanWithMockClock(t *testing.T) {
	ctrl := gomock.NewController(t)
	sched := mocks.NewMockScheduler(ctrl)
	var scan func()
	sched.EXPECT().ScheduleTask("remoting.client.scan_timeout", gomock.Any(), time.Second, time.Second).
		DoAndReturn(func(name string, fn func(), due, period time.Duration) int64 {
			scan = fn
			return 11
		})
	sched.EXPECT().ShutdownTask(int64(11))

	release := make(chan struct{})
	defer close(release)
	srv := newServer(t, newScheduler(t))
	srv.RegisterHandler(codeHang, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			<-release
			return nil, nil
		}))

	mclock := clock.NewMock()
	cli := remoting.NewClient(srv.Addr().String(), &remoting.ClientConfig{Clock: mclock}, sched)
	require.NoError(t, cli.Start())
	defer cli.Shutdown()
	require.NotNil(t, scan)

	short, err := cli.InvokeAsync(proto.NewRequest(codeHang, nil), 100*time.Millisecond)
	require.NoError(t, err)
	long, err := cli.InvokeAsync(proto.NewRequest(codeHang, nil), 10*time.Second)
	require.NoError(t, err)

	mclock.Add(50 * time.Millisecond)
	scan()
	require.Equal(t, 2, cli.PendingRequestCount())

	mclock.Add(100 * time.Millisecond)
	scan()
	require.Equal(t, 1, cli.PendingRequestCount())
	_, err = short.Result()
	require.ErrorIs(t, err, remoting.ErrTimeout)

	select {
	case <-long.Done():
		t.Fatal("long request should be pending")
	default:
	}
	mclock.Add(10 * time.Second)
	scan()
	scan()
	_, err = long.Result()
	require.ErrorIs(t, err, remoting.ErrTimeout)
	require.Equal(t, 0, cli.PendingRequestCount())
}

func TestOneway(t *testing.T) {
	received := make(chan *proto.Request, 1)
	sched := newScheduler(t)
	srv := newServer(t, sched)
	srv.RegisterHandler(200, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			received <- req
			// suppressed for one-way requests
			return proto.NewResponse(req, 0, []byte("ignored")), nil
		}))
	cli := newClient(t, srv.Addr().String(), sched, nil)

	req := proto.NewRequest(200, []byte("fire"))
	require.NoError(t, cli.InvokeOneway(req, time.Second))
	require.Equal(t, 0, cli.PendingRequestCount())

	select {
	case got := <-received:
		require.True(t, got.IsOneway())
		require.Equal(t, req.Sequence, got.Sequence)
		require.Equal(t, []byte("fire"), got.Body)
	case <-time.After(5 * time.Second):
		t.Fatal("oneway request not received")
	}

	// no handler for one-way request gets no reply either
	require.NoError(t, cli.InvokeOneway(proto.NewRequest(7, nil), time.Second))
	resp, err := cli.InvokeSync(proto.NewRequest(codePing, []byte("ping")), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", string(resp.Body))
}

func TestClientState(t *testing.T) {
	sched := newScheduler(t)
	srv := newServer(t, sched)

	cli := remoting.NewClient(srv.Addr().String(), nil, sched)
	_, err := cli.InvokeAsync(proto.NewRequest(codePing, nil), time.Second)
	require.ErrorIs(t, err, remoting.ErrNotStarted)
	require.ErrorIs(t, cli.InvokeOneway(proto.NewRequest(codePing, nil), time.Second), remoting.ErrNotStarted)

	require.NoError(t, cli.Start())
	require.NoError(t, cli.Start())

	release := make(chan struct{})
	defer close(release)
	srv.RegisterHandler(codeHang, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			<-release
			return nil, nil
		}))
	req := proto.NewRequest(codeHang, nil)
	future, err := cli.InvokeAsync(req, time.Minute)
	require.NoError(t, err)
	_, err = cli.InvokeAsync(req, time.Minute)
	require.ErrorIs(t, err, remoting.ErrDuplicateSequence)

	cli.Shutdown()
	cli.Shutdown()
	_, err = future.Result()
	require.ErrorIs(t, err, remoting.ErrClientShutdown)
	require.False(t, cli.IsConnected())
	_, err = cli.InvokeAsync(proto.NewRequest(codePing, nil), time.Second)
	require.ErrorIs(t, err, remoting.ErrClientShutdown)
	require.ErrorIs(t, cli.Start(), remoting.ErrClientShutdown)
}

func TestClientNotConnected(t *testing.T) {
	sched := newScheduler(t)
	cli := newClient(t, freeAddr(t), sched, &remoting.ClientConfig{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	require.False(t, cli.IsConnected())
	_, err := cli.InvokeAsync(proto.NewRequest(codePing, nil), time.Second)
	require.ErrorIs(t, err, remoting.ErrNotConnected)
	_, err = cli.InvokeSync(proto.NewRequest(codePing, nil), time.Second)
	require.ErrorIs(t, err, remoting.ErrNotConnected)
}

type connEvents struct {
	mu          sync.Mutex
	established []*transport.Connection
	closed      int
	failed      int
}

func (e *connEvents) OnConnectionEstablished(conn *transport.Connection) {
	e.mu.Lock()
	e.established = append(e.established, conn)
	e.mu.Unlock()
}

func (e *connEvents) OnConnectionClosed(conn *transport.Connection, err error) {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
}

func (e *connEvents) OnConnectionFailed(addr string, err error) {
	e.mu.Lock()
	e.failed++
	e.mu.Unlock()
}

func (e *connEvents) snapshot() ([]*transport.Connection, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*transport.Connection(nil), e.established...), e.closed, e.failed
}

func TestClientReconnect(t *testing.T) {
	sched := newScheduler(t)
	srv := newServer(t, sched)
	serverEvents := &connEvents{}
	srv.RegisterConnectionListener(serverEvents)

	clientEvents := &connEvents{}
	cli := remoting.NewClient(srv.Addr().String(), &remoting.ClientConfig{ReconnectInterval: 20 * time.Millisecond}, sched)
	cli.RegisterConnectionListener(clientEvents)
	require.NoError(t, cli.Start())
	defer cli.Shutdown()

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	conns, _, _ := serverEvents.snapshot()
	require.Len(t, conns, 1)
	conns[0].Close()

	require.Eventually(t, func() bool {
		established, closed, _ := clientEvents.snapshot()
		return len(established) == 2 && closed == 1 && cli.IsConnected()
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := cli.InvokeSync(proto.NewRequest(codePing, []byte("ping")), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", string(resp.Body))
}

func TestClientConnectLater(t *testing.T) {
	addr := freeAddr(t)
	sched := newScheduler(t)
	events := &connEvents{}
	cli := remoting.NewClient(addr, &remoting.ClientConfig{
		ReconnectInterval:    20 * time.Millisecond,
		MaxReconnectAttempts: 500,
	}, sched)
	cli.RegisterConnectionListener(events)
	require.NoError(t, cli.Start())
	defer cli.Shutdown()
	require.False(t, cli.IsConnected())

	srv := remoting.NewServer(&remoting.ServerConfig{Address: addr}, sched)
	srv.RegisterHandler(codePing, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			return proto.NewResponse(req, 0, []byte("pong")), nil
		}))
	require.NoError(t, srv.Start())
	defer srv.Shutdown()

	require.Eventually(t, cli.IsConnected, 10*time.Second, 10*time.Millisecond)
	_, _, failed := events.snapshot()
	require.True(t, failed >= 1)
	resp, err := cli.InvokeSync(proto.NewRequest(codePing, []byte("ping")), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", string(resp.Body))
}

func TestClientReconnectRounds(t *testing.T) {
	addr := freeAddr(t)
	sched := newScheduler(t)
	events := &connEvents{}
	cli := remoting.NewClient(addr, &remoting.ClientConfig{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}, sched)
	cli.RegisterConnectionListener(events)
	require.NoError(t, cli.Start())
	defer cli.Shutdown()

	// the initial dial and more than two exhausted rounds
	require.Eventually(t, func() bool {
		_, _, failed := events.snapshot()
		return failed >= 6
	}, 10*time.Second, 10*time.Millisecond)
	require.False(t, cli.IsConnected())

	srv := remoting.NewServer(&remoting.ServerConfig{Address: addr}, sched)
	srv.RegisterHandler(codePing, remoting.RequestHandlerFunc(
		func(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
			return proto.NewResponse(req, 0, []byte("pong")), nil
		}))
	require.NoError(t, srv.Start())
	defer srv.Shutdown()

	require.Eventually(t, cli.IsConnected, 10*time.Second, 10*time.Millisecond)
	resp, err := cli.InvokeSync(proto.NewRequest(codePing, []byte("ping")), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", string(resp.Body))
}

func TestServerPush(t *testing.T) {
	ctrl := gomock.NewController(t)
	sched := newScheduler(t)
	srv := newServer(t, sched)
	events := &connEvents{}
	srv.RegisterConnectionListener(events)

	got := make(chan *proto.PushMessage, 8)
	handler := mocks.NewMockPushHandler(ctrl)
	handler.EXPECT().HandlePush(gomock.Any()).Do(func(msg *proto.PushMessage) { got <- msg }).AnyTimes()

	clients := make([]*remoting.Client, 3)
	for ii := range clients {
		clients[ii] = newClient(t, srv.Addr().String(), sched, nil)
		clients[ii].SetPushHandler(handler)
	}
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 3 }, 5*time.Second, 10*time.Millisecond)

	msg := proto.NewPushMessage(1, 2, []byte("hello"))
	msg.Header = map[string]string{"k": "v"}
	sent, err := srv.Push(msg)
	require.NoError(t, err)
	require.Equal(t, 3, sent)
	for ii := 0; ii < 3; ii++ {
		select {
		case m := <-got:
			require.Equal(t, msg.ID, m.ID)
			require.Equal(t, []byte("hello"), m.Body)
			require.Equal(t, "v", m.Header["k"])
		case <-time.After(5 * time.Second):
			t.Fatal("push not received")
		}
	}

	// a broken connection does not stop the broadcast
	clients[0].Shutdown()
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	conns, _, _ := events.snapshot()
	sent, err = srv.Push(proto.NewPushMessage(1, 3, []byte("again")))
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	for ii := 0; ii < 2; ii++ {
		select {
		case m := <-got:
			require.Equal(t, []byte("again"), m.Body)
		case <-time.After(5 * time.Second):
			t.Fatal("push not received")
		}
	}

	var target *transport.Connection
	for _, conn := range conns {
		if !conn.IsClosed() {
			target = conn
			break
		}
	}
	require.NotNil(t, target)
	require.NoError(t, srv.PushTo(target.ID(), proto.NewPushMessage(1, 4, []byte("one"))))
	select {
	case m := <-got:
		require.Equal(t, []byte("one"), m.Body)
	case <-time.After(5 * time.Second):
		t.Fatal("push not received")
	}
	require.ErrorIs(t, srv.PushTo("nope", proto.NewPushMessage(1, 4, nil)), remoting.ErrConnectionNotFound)
}

func TestServerLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	sched := mocks.NewMockScheduler(ctrl)
	sched.EXPECT().ScheduleTask("remoting.server.stat", gomock.Any(), time.Minute, time.Minute).Return(int64(3))
	sched.EXPECT().ShutdownTask(int64(3))

	srv := remoting.NewServer(&remoting.ServerConfig{Address: "127.0.0.1:0"}, sched)
	require.Nil(t, srv.Addr())
	require.NoError(t, srv.Start())
	require.ErrorIs(t, srv.Start(), remoting.ErrServerStarted)
	addr := srv.Addr().String()

	cli := newClient(t, addr, newScheduler(t), nil)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	srv.Shutdown()
	srv.Shutdown()
	require.Equal(t, 0, srv.ConnectionCount())
	require.ErrorIs(t, srv.Start(), remoting.ErrServerShutdown)
	_, err := net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err)
	require.Eventually(t, func() bool { return !cli.IsConnected() }, 5*time.Second, 10*time.Millisecond)

	require.Error(t, remoting.NewServer(&remoting.ServerConfig{}, sched).Start())
}
