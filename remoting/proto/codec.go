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

package proto

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

const (
	requestHeaderSize  = 8 + 2 + 2
	responseHeaderSize = 8 + 2 + 2 + 2
	kindSize           = 2
	pushFixedSize      = 2 + 2 + 8 + 2 + 2
)

var (
	ErrInvalidMessage = errors.New("proto: invalid message")
	ErrFieldTooLong   = errors.New("proto: field too long")
)

var le = binary.LittleEndian

// EncodeRequest returns wire bytes of r.
func EncodeRequest(r *Request) []byte {
	buf := make([]byte, requestHeaderSize+len(r.Body))
	le.PutUint64(buf[0:], uint64(r.Sequence))
	le.PutUint16(buf[8:], uint16(r.Code))
	le.PutUint16(buf[10:], uint16(r.Type))
	copy(buf[requestHeaderSize:], r.Body)
	return buf
}

// DecodeRequest parses a request, the body aliases buf.
// ID and Header are not on the wire, CreatedTime is the decoding time.
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < requestHeaderSize {
		return nil, ErrInvalidMessage
	}
	return &Request{
		Sequence:    int64(le.Uint64(buf[0:])),
		Code:        int16(le.Uint16(buf[8:])),
		Type:        RequestType(le.Uint16(buf[10:])),
		Body:        buf[requestHeaderSize:],
		CreatedTime: time.Now(),
	}, nil
}

// EncodeResponse returns wire bytes of r.
func EncodeResponse(r *Response) []byte {
	buf := make([]byte, responseHeaderSize+len(r.Body))
	putResponse(buf, r)
	return buf
}

func putResponse(buf []byte, r *Response) {
	le.PutUint64(buf[0:], uint64(r.RequestSequence))
	le.PutUint16(buf[8:], uint16(r.RequestCode))
	le.PutUint16(buf[10:], uint16(r.ResponseCode))
	le.PutUint16(buf[12:], uint16(r.RequestType))
	copy(buf[responseHeaderSize:], r.Body)
}

// DecodeResponse parses a response, the body aliases buf.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < responseHeaderSize {
		return nil, ErrInvalidMessage
	}
	return &Response{
		RequestSequence: int64(le.Uint64(buf[0:])),
		RequestCode:     int16(le.Uint16(buf[8:])),
		ResponseCode:    int16(le.Uint16(buf[10:])),
		RequestType:     RequestType(le.Uint16(buf[12:])),
		Body:            buf[responseHeaderSize:],
	}, nil
}

// EncodeServerResponse returns server frame carrying response r.
func EncodeServerResponse(r *Response) []byte {
	buf := make([]byte, kindSize+responseHeaderSize+len(r.Body))
	le.PutUint16(buf, uint16(KindResponse))
	putResponse(buf[kindSize:], r)
	return buf
}

// EncodePushMessage returns server frame carrying push message m.
func EncodePushMessage(m *PushMessage) ([]byte, error) {
	if len(m.ID) > math.MaxUint16 || len(m.Header) > math.MaxUint16 {
		return nil, ErrFieldTooLong
	}
	size := kindSize + pushFixedSize + len(m.ID) + len(m.Body)
	for k, v := range m.Header {
		if len(k) > math.MaxUint16 || len(v) > math.MaxUint16 {
			return nil, ErrFieldTooLong
		}
		size += 4 + len(k) + len(v)
	}

	buf := make([]byte, size)
	le.PutUint16(buf[0:], uint16(KindServerPush))
	le.PutUint16(buf[2:], uint16(m.Type))
	le.PutUint16(buf[4:], uint16(m.Code))
	var created int64
	if !m.CreatedTime.IsZero() {
		created = m.CreatedTime.UnixNano() / int64(time.Millisecond)
	}
	le.PutUint64(buf[6:], uint64(created))
	off := 14
	off = putString(buf, off, m.ID)
	le.PutUint16(buf[off:], uint16(len(m.Header)))
	off += 2
	for k, v := range m.Header {
		off = putString(buf, off, k)
		off = putString(buf, off, v)
	}
	copy(buf[off:], m.Body)
	return buf, nil
}

func putString(buf []byte, off int, s string) int {
	le.PutUint16(buf[off:], uint16(len(s)))
	off += 2
	return off + copy(buf[off:], s)
}

func getString(buf []byte, off int) (string, int, error) {
	if len(buf) < off+2 {
		return "", off, ErrInvalidMessage
	}
	n := int(le.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+n {
		return "", off, ErrInvalidMessage
	}
	return string(buf[off : off+n]), off + n, nil
}

func decodePushMessage(buf []byte) (*PushMessage, error) {
	if len(buf) < pushFixedSize {
		return nil, ErrInvalidMessage
	}
	m := &PushMessage{
		Type: int16(le.Uint16(buf[0:])),
		Code: int16(le.Uint16(buf[2:])),
	}
	if created := int64(le.Uint64(buf[4:])); created != 0 {
		m.CreatedTime = time.Unix(0, created*int64(time.Millisecond))
	}

	var err error
	off := 12
	if m.ID, off, err = getString(buf, off); err != nil {
		return nil, err
	}
	if len(buf) < off+2 {
		return nil, ErrInvalidMessage
	}
	count := int(le.Uint16(buf[off:]))
	off += 2
	if count > 0 {
		m.Header = make(map[string]string, count)
	}
	for ii := 0; ii < count; ii++ {
		var k, v string
		if k, off, err = getString(buf, off); err != nil {
			return nil, err
		}
		if v, off, err = getString(buf, off); err != nil {
			return nil, err
		}
		m.Header[k] = v
	}
	m.Body = buf[off:]
	return m, nil
}

// DecodeServerMessage parses a server frame, exactly one of the
// response and push message is returned on success.
func DecodeServerMessage(buf []byte) (MessageKind, *Response, *PushMessage, error) {
	if len(buf) < kindSize {
		return 0, nil, nil, ErrInvalidMessage
	}
	kind := MessageKind(le.Uint16(buf))
	switch kind {
	case KindResponse:
		resp, err := DecodeResponse(buf[kindSize:])
		return kind, resp, nil, err
	case KindServerPush:
		msg, err := decodePushMessage(buf[kindSize:])
		return kind, nil, msg, err
	default:
		return kind, nil, nil, ErrInvalidMessage
	}
}
