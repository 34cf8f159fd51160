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

package remoting

import (
	"errors"
	"fmt"
	"time"

	"github.com/cubefs/infrakit/remoting/proto"
)

var (
	ErrNotStarted         = errors.New("remoting: client not started")
	ErrNotConnected       = errors.New("remoting: client not connected")
	ErrClientShutdown     = errors.New("remoting: client shutdown")
	ErrDuplicateSequence  = errors.New("remoting: duplicate request sequence")
	ErrTimeout            = errors.New("remoting: request timeout")
	ErrNilResponse        = errors.New("remoting: nil response")
	ErrServerStarted      = errors.New("remoting: server already started")
	ErrServerShutdown     = errors.New("remoting: server shutdown")
	ErrConnectionNotFound = errors.New("remoting: connection not found")
)

// InvokeCause why a synchronous invoke failed.
type InvokeCause int

const (
	// CauseNotCompleted no response within the timeout.
	CauseNotCompleted InvokeCause = iota + 1
	// CauseFaulted the request completed with an error.
	CauseFaulted
	// CauseNilResponse the request completed without response.
	CauseNilResponse
)

func (c InvokeCause) String() string {
	switch c {
	case CauseNotCompleted:
		return "not completed"
	case CauseFaulted:
		return "faulted"
	case CauseNilResponse:
		return "nil response"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// InvokeError carries the diagnostics of a failed invoke.
type InvokeError struct {
	Addr    string
	Request *proto.Request
	Timeout time.Duration
	Cause   InvokeCause
	Err     error
}

func newInvokeError(addr string, req *proto.Request, timeout time.Duration, cause InvokeCause, err error) *InvokeError {
	return &InvokeError{Addr: addr, Request: req, Timeout: timeout, Cause: cause, Err: err}
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("remoting: invoke %s on %s timeout %s %s: %v", e.Request, e.Addr, e.Timeout, e.Cause, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// IsTimeout returns true if err is caused by request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
