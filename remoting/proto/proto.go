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

// Package proto defines remoting messages and their wire encoding.
// All integers are little-endian.
//
//	request:  [sequence:int64][code:int16][type:int16][body]
//	response: [requestSequence:int64][requestCode:int16][responseCode:int16][requestType:int16][body]
//
// Frames from server to client start with an int16 MessageKind,
// followed by a response or a push message.
package proto

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

// RequestType how the sender waits for the request.
type RequestType int16

const (
	RequestTypeAsync RequestType = iota + 1
	RequestTypeOneway
	RequestTypeCallback
)

func (t RequestType) String() string {
	switch t {
	case RequestTypeAsync:
		return "async"
	case RequestTypeOneway:
		return "oneway"
	case RequestTypeCallback:
		return "callback"
	default:
		return fmt.Sprintf("type(%d)", int16(t))
	}
}

// MessageKind tags frames sent by server.
type MessageKind int16

const (
	KindServerPush MessageKind = iota + 1
	KindResponse
)

// ResponseCodeError response code of failed requests, body is the error text.
const ResponseCodeError int16 = -1

var sequence int64

// NextSequence returns process-wide monotonic sequence, starts from 1.
func NextSequence() int64 {
	return atomic.AddInt64(&sequence, 1)
}

// Request remoting request.
type Request struct {
	ID          string
	Type        RequestType
	Code        int16
	Sequence    int64
	Body        []byte
	CreatedTime time.Time
	Header      map[string]string
}

// NewRequest returns async request with a new sequence.
func NewRequest(code int16, body []byte) *Request {
	return &Request{
		ID:          xid.New().String(),
		Type:        RequestTypeAsync,
		Code:        code,
		Sequence:    NextSequence(),
		Body:        body,
		CreatedTime: time.Now(),
	}
}

func (r *Request) IsOneway() bool { return r.Type == RequestTypeOneway }

func (r *Request) String() string {
	return fmt.Sprintf("request(id:%s type:%s code:%d seq:%d body:%d)",
		r.ID, r.Type, r.Code, r.Sequence, len(r.Body))
}

// Response remoting response, correlated to request by sequence.
type Response struct {
	RequestCode     int16
	ResponseCode    int16
	RequestType     RequestType
	Body            []byte
	RequestSequence int64
}

// NewResponse returns response of req.
func NewResponse(req *Request, code int16, body []byte) *Response {
	return &Response{
		RequestCode:     req.Code,
		ResponseCode:    code,
		RequestType:     req.Type,
		Body:            body,
		RequestSequence: req.Sequence,
	}
}

// NewErrorResponse returns response with ResponseCodeError and text as body.
func NewErrorResponse(req *Request, text string) *Response {
	return NewResponse(req, ResponseCodeError, []byte(text))
}

func (r *Response) IsError() bool { return r.ResponseCode == ResponseCodeError }

func (r *Response) String() string {
	return fmt.Sprintf("response(seq:%d reqcode:%d code:%d type:%s body:%d)",
		r.RequestSequence, r.RequestCode, r.ResponseCode, r.RequestType, len(r.Body))
}

// PushMessage unsolicited message from server to client.
type PushMessage struct {
	Type        int16
	ID          string
	Code        int16
	Body        []byte
	CreatedTime time.Time
	Header      map[string]string
}

// NewPushMessage returns push message with a new id.
func NewPushMessage(typ, code int16, body []byte) *PushMessage {
	return &PushMessage{
		Type:        typ,
		ID:          xid.New().String(),
		Code:        code,
		Body:        body,
		CreatedTime: time.Now(),
	}
}

func (m *PushMessage) String() string {
	return fmt.Sprintf("push(id:%s type:%d code:%d body:%d)", m.ID, m.Type, m.Code, len(m.Body))
}
