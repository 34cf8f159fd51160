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
	"encoding/binary"
	"hash/crc32"
)

const (
	HeaderSize = 128
	FooterSize = 128

	headerMagic uint32 = 0x4b4e4843 // "CHNK"
	footerMagic uint32 = 0x544f4f46 // "FOOT"

	CurrentVersion uint32 = 1

	crcOffset = 124
)

var le = binary.LittleEndian

// ChunkHeader first 128 bytes of a chunk file.
//
//	magic(4) version(4) chunkType(4) pad(4) chunkNumber(8)
//	dataTotalSize(8) dataStartPos(8) dataEndPos(8) filterSize(8)
//	reserved ... crc32(4)
type ChunkHeader struct {
	Magic         uint32
	Version       uint32
	ChunkType     int32
	ChunkNumber   int64
	DataTotalSize int64
	DataStartPos  int64
	DataEndPos    int64
	// FilterSize bytes reserved for the bloom filter block.
	FilterSize int64
}

// NewChunkHeader returns header of chunk number, chunks of the same
// manager have the same data size so the number locates global data.
func NewChunkHeader(chunkType int32, number, dataSize, filterSize int64) *ChunkHeader {
	start := number * dataSize
	return &ChunkHeader{
		Magic:         headerMagic,
		Version:       CurrentVersion,
		ChunkType:     chunkType,
		ChunkNumber:   number,
		DataTotalSize: dataSize,
		DataStartPos:  start,
		DataEndPos:    start + dataSize,
		FilterSize:    filterSize,
	}
}

func (h *ChunkHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	le.PutUint32(buf[0:], h.Magic)
	le.PutUint32(buf[4:], h.Version)
	le.PutUint32(buf[8:], uint32(h.ChunkType))
	le.PutUint64(buf[16:], uint64(h.ChunkNumber))
	le.PutUint64(buf[24:], uint64(h.DataTotalSize))
	le.PutUint64(buf[32:], uint64(h.DataStartPos))
	le.PutUint64(buf[40:], uint64(h.DataEndPos))
	le.PutUint64(buf[48:], uint64(h.FilterSize))
	le.PutUint32(buf[crcOffset:], crc32.ChecksumIEEE(buf[:crcOffset]))
	return buf
}

// FileSize returns size of the completed chunk file.
func (h *ChunkHeader) FileSize() int64 {
	return HeaderSize + h.DataTotalSize + h.FilterSize + FooterSize
}

func (h *ChunkHeader) filterOffset() int64 { return HeaderSize + h.DataTotalSize }
func (h *ChunkHeader) footerOffset() int64 { return HeaderSize + h.DataTotalSize + h.FilterSize }

func UnmarshalChunkHeader(buf []byte) (*ChunkHeader, error) {
	if len(buf) < HeaderSize {
		return nil, ErrInvalidHeader
	}
	if crc32.ChecksumIEEE(buf[:crcOffset]) != le.Uint32(buf[crcOffset:]) {
		return nil, ErrInvalidHeader
	}
	h := &ChunkHeader{
		Magic:         le.Uint32(buf[0:]),
		Version:       le.Uint32(buf[4:]),
		ChunkType:     int32(le.Uint32(buf[8:])),
		ChunkNumber:   int64(le.Uint64(buf[16:])),
		DataTotalSize: int64(le.Uint64(buf[24:])),
		DataStartPos:  int64(le.Uint64(buf[32:])),
		DataEndPos:    int64(le.Uint64(buf[40:])),
		FilterSize:    int64(le.Uint64(buf[48:])),
	}
	if h.Magic != headerMagic || h.Version != CurrentVersion ||
		h.ChunkNumber < 0 || h.DataTotalSize <= 0 || h.FilterSize < 0 ||
		h.DataStartPos != h.ChunkNumber*h.DataTotalSize ||
		h.DataEndPos != h.DataStartPos+h.DataTotalSize {
		return nil, ErrInvalidHeader
	}
	return h, nil
}

// ChunkFooter last 128 bytes of a completed chunk file.
//
//	magic(4) pad(4) dataTotalSize(8) filterTotalSize(8) reserved ... crc32(4)
type ChunkFooter struct {
	Magic uint32
	// DataTotalSize bytes of records written.
	DataTotalSize int64
	// FilterTotalSize bytes of bloom filter content, zero without filter.
	FilterTotalSize int64
}

func NewChunkFooter(dataSize, filterSize int64) *ChunkFooter {
	return &ChunkFooter{Magic: footerMagic, DataTotalSize: dataSize, FilterTotalSize: filterSize}
}

func (f *ChunkFooter) Marshal() []byte {
	buf := make([]byte, FooterSize)
	le.PutUint32(buf[0:], f.Magic)
	le.PutUint64(buf[8:], uint64(f.DataTotalSize))
	le.PutUint64(buf[16:], uint64(f.FilterTotalSize))
	le.PutUint32(buf[crcOffset:], crc32.ChecksumIEEE(buf[:crcOffset]))
	return buf
}

func UnmarshalChunkFooter(buf []byte) (*ChunkFooter, error) {
	if len(buf) < FooterSize {
		return nil, ErrInvalidFooter
	}
	if crc32.ChecksumIEEE(buf[:crcOffset]) != le.Uint32(buf[crcOffset:]) {
		return nil, ErrInvalidFooter
	}
	f := &ChunkFooter{
		Magic:           le.Uint32(buf[0:]),
		DataTotalSize:   int64(le.Uint64(buf[8:])),
		FilterTotalSize: int64(le.Uint64(buf[16:])),
	}
	if f.Magic != footerMagic || f.DataTotalSize < 0 || f.FilterTotalSize < 0 {
		return nil, ErrInvalidFooter
	}
	return f, nil
}
