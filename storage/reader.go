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

package storage

import (
	"github.com/cubefs/infrakit/storage/chunk"
)

// ChunkReader reads records by global position.
type ChunkReader struct {
	manager *ChunkManager
}

func NewChunkReader(m *ChunkManager) *ChunkReader {
	return &ChunkReader{manager: m}
}

// TryReadAt returns nil record if nothing is written at globalPos of an
// existing chunk, and ErrChunkNotExist if the chunk does not exist.
func (r *ChunkReader) TryReadAt(globalPos int64, factory chunk.RecordFactory) (chunk.Record, error) {
	if globalPos < 0 {
		return nil, chunk.ErrInvalidPosition
	}
	c, err := r.manager.GetChunk(globalPos / r.manager.ChunkDataSize())
	if err != nil {
		return nil, err
	}
	rec, err := c.TryReadAt(globalPos-c.Header().DataStartPos, factory)
	if err != nil {
		return nil, err
	}
	r.manager.touch(c)
	if c.IsCompleted() {
		r.manager.TryCacheNextChunk(c)
	}
	return rec, nil
}
