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
	"net"
	"runtime/debug"

	"github.com/cubefs/infrakit/util/log"
)

// headerSize little-endian int32 length of the payload.
const headerSize = 4

var (
	ErrInvalidFrameLength = errors.New("transport: invalid frame length")
	ErrFrameTooLarge      = errors.New("transport: frame too large")
)

// Frame returns the length header and payload as two segments,
// the payload is not copied.
func Frame(payload []byte) net.Buffers {
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))
	return net.Buffers{header, payload}
}

// Parser reassembles frames from segments of a byte stream. Segments
// may split frames anywhere. Parser is not safe for concurrent use.
type Parser struct {
	maxFrameSize int
	onMessage    func(msg []byte)
	logger       log.Logger

	header     [headerSize]byte
	headerSeen int
	length     int
	message    []byte
	copied     int
}

// NewParser returns parser calls onMessage with each complete payload,
// maxFrameSize not greater than zero means no limit.
func NewParser(maxFrameSize int, onMessage func(msg []byte), logger log.Logger) *Parser {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Parser{
		maxFrameSize: maxFrameSize,
		onMessage:    onMessage,
		logger:       logger,
	}
}

// Feed consumes data, the returned error is fatal for the stream.
func (p *Parser) Feed(data []byte) error {
	for len(data) > 0 {
		if p.headerSeen < headerSize {
			n := copy(p.header[p.headerSeen:], data)
			p.headerSeen += n
			data = data[n:]
			if p.headerSeen < headerSize {
				return nil
			}

			length := int32(binary.LittleEndian.Uint32(p.header[:]))
			if length <= 0 {
				return ErrInvalidFrameLength
			}
			if p.maxFrameSize > 0 && int(length) > p.maxFrameSize {
				return ErrFrameTooLarge
			}
			p.length = int(length)
			p.message = make([]byte, p.length)
			p.copied = 0
			continue
		}

		n := copy(p.message[p.copied:], data)
		p.copied += n
		data = data[n:]
		if p.copied == p.length {
			msg := p.message
			p.reset()
			p.deliver(msg)
		}
	}
	return nil
}

// Buffered returns bytes of the partial frame held by parser.
func (p *Parser) Buffered() int {
	return p.headerSeen + p.copied
}

func (p *Parser) reset() {
	p.headerSeen = 0
	p.length = 0
	p.message = nil
	p.copied = 0
}

func (p *Parser) deliver(msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("frame arrived callback panic: %v\n%s", r, debug.Stack())
		}
	}()
	p.onMessage(msg)
}
