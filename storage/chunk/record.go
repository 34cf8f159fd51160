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

package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/cubefs/infrakit/util/bytespool"
)

// recordFrameSize bytes of the leading and trailing length of a record.
const recordFrameSize = 4 + 4

const encodeBufferSize = 512

// Record is stored in chunk as [len:int32][payload][len:int32], the
// payload is what WriteTo writes. position is the global position the
// record is written at.
type Record interface {
	WriteTo(position int64, w io.Writer) error
}

// Keyed records are added to the chunk bloom filter.
type Keyed interface {
	Key() string
}

// RecordFactory rebuilds a record from its payload.
type RecordFactory func(data []byte) (Record, error)

// BytesRecord raw payload record.
type BytesRecord []byte

func (r BytesRecord) WriteTo(position int64, w io.Writer) error {
	_, err := w.Write(r)
	return err
}

// BytesRecordFactory returns the payload as BytesRecord.
func BytesRecordFactory(data []byte) (Record, error) {
	return BytesRecord(data), nil
}

// KeyedRecord payload prefixed by a key: [keyLen:u16][key][value].
type KeyedRecord struct {
	K     string
	Value []byte
}

func (r *KeyedRecord) Key() string { return r.K }

func (r *KeyedRecord) WriteTo(position int64, w io.Writer) error {
	if len(r.K) > 0xffff {
		return errors.New("chunk: record key too long")
	}
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(r.K)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, r.K); err != nil {
		return err
	}
	_, err := w.Write(r.Value)
	return err
}

// KeyedRecordFactory decodes KeyedRecord payloads.
func KeyedRecordFactory(data []byte) (Record, error) {
	if len(data) < 2 {
		return nil, ErrCorruptRecord
	}
	n := int(binary.LittleEndian.Uint16(data))
	if len(data) < 2+n {
		return nil, ErrCorruptRecord
	}
	return &KeyedRecord{K: string(data[2 : 2+n]), Value: data[2+n:]}, nil
}

// encodeRecord returns the framed record in a pooled buffer, the caller
// frees it with bytespool.Free once written.
func encodeRecord(r Record, position int64) ([]byte, error) {
	buf := bytes.NewBuffer(bytespool.Alloc(encodeBufferSize)[:4])
	if err := r.WriteTo(position, buf); err != nil {
		bytespool.Free(buf.Bytes())
		return nil, err
	}
	n := buf.Len() - 4
	if n <= 0 {
		bytespool.Free(buf.Bytes())
		return nil, ErrEmptyRecord
	}
	if int64(n) > 0x7fffffff-recordFrameSize {
		bytespool.Free(buf.Bytes())
		return nil, ErrRecordTooLarge
	}
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], uint32(n))
	buf.Write(tail[:])
	data := buf.Bytes()
	copy(data, tail[:])
	return data, nil
}
