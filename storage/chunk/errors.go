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

import "errors"

var (
	ErrChunkNotWritable    = errors.New("chunk: not writable")
	ErrChunkNotCompleted   = errors.New("chunk: not completed")
	ErrChunkFull           = errors.New("chunk: full")
	ErrChunkClosed         = errors.New("chunk: closed")
	ErrRecordTooLarge      = errors.New("chunk: record too large")
	ErrEmptyRecord         = errors.New("chunk: empty record")
	ErrInvalidPosition     = errors.New("chunk: invalid position")
	ErrCorruptRecord       = errors.New("chunk: corrupt record")
	ErrInvalidHeader       = errors.New("chunk: invalid header")
	ErrInvalidFooter       = errors.New("chunk: invalid footer")
	ErrInvalidBloomFilter  = errors.New("chunk: invalid bloom filter")
	ErrBloomFilterOversize = errors.New("chunk: bloom filter oversize")
)
