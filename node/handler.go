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

package node

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/cubefs/infrakit/remoting"
	"github.com/cubefs/infrakit/remoting/proto"
	"github.com/cubefs/infrakit/storage"
	"github.com/cubefs/infrakit/storage/chunk"
)

// request codes
const (
	CodePing   int16 = 42
	CodeAppend int16 = 100
	CodeRead   int16 = 101
)

// response codes
const (
	CodeOK       int16 = 0
	CodeNotFound int16 = 404
)

// PushChunkRotated push type of chunk rotations, the body is the
// completed and the new active chunk number.
const PushChunkRotated int16 = 1

var errInvalidPosition = errors.New("node: invalid position")

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(buf []byte) (int64, error) {
	if len(buf) != 8 {
		return 0, errInvalidPosition
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (n *Node) registerHandlers() {
	n.server.RegisterHandler(CodePing, remoting.RequestHandlerFunc(n.handlePing))
	n.server.RegisterHandler(CodeAppend, remoting.RequestHandlerFunc(n.handleAppend))
	n.server.RegisterHandler(CodeRead, remoting.RequestHandlerFunc(n.handleRead))
}

func (n *Node) handlePing(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
	return proto.NewResponse(req, CodeOK, []byte("pong")), nil
}

// handleAppend replies the global position of the record.
func (n *Node) handleAppend(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
	pos, err := n.writer.Write(chunk.BytesRecord(req.Body))
	if err != nil {
		return nil, err
	}
	return proto.NewResponse(req, CodeOK, encodeInt64(pos)), nil
}

func (n *Node) handleRead(ctx remoting.RequestContext, req *proto.Request) (*proto.Response, error) {
	pos, err := decodeInt64(req.Body)
	if err != nil {
		return nil, err
	}
	rec, err := n.reader.TryReadAt(pos, chunk.BytesRecordFactory)
	if errors.Is(err, storage.ErrChunkNotExist) || (err == nil && rec == nil) {
		return proto.NewResponse(req, CodeNotFound, nil), nil
	}
	if err != nil {
		return nil, err
	}
	return proto.NewResponse(req, CodeOK, rec.(chunk.BytesRecord)), nil
}

func (n *Node) onRotate(completed, active *chunk.Chunk) {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint64(body, uint64(completed.Number()))
	binary.LittleEndian.PutUint64(body[8:], uint64(active.Number()))
	msg := proto.NewPushMessage(PushChunkRotated, CodeOK, body)
	msg.Header = map[string]string{
		"completed": strconv.FormatInt(completed.Number(), 10),
		"active":    strconv.FormatInt(active.Number(), 10),
	}
	sent, err := n.server.Push(msg)
	if err != nil {
		n.logger.Warnf("node push rotation %d -> %d: %v", completed.Number(), active.Number(), err)
		return
	}
	n.logger.Debugf("node pushed rotation %d -> %d to %d connections", completed.Number(), active.Number(), sent)
}

// DecodeChunkRotated returns chunk numbers of a PushChunkRotated message.
func DecodeChunkRotated(msg *proto.PushMessage) (completed, active int64, err error) {
	if msg.Type != PushChunkRotated || len(msg.Body) != 16 {
		return 0, 0, proto.ErrInvalidMessage
	}
	return int64(binary.LittleEndian.Uint64(msg.Body)), int64(binary.LittleEndian.Uint64(msg.Body[8:])), nil
}
