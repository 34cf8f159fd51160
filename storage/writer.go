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
	"sync"

	"github.com/pkg/errors"

	"github.com/cubefs/infrakit/storage/chunk"
)

// RotateListener is called after the writer moved to a new chunk.
type RotateListener func(completed, active *chunk.Chunk)

// ChunkWriter appends records to the active chunk of a manager and
// rotates to a new chunk when it is full.
type ChunkWriter struct {
	manager  *ChunkManager
	mu       sync.Mutex
	onRotate RotateListener
}

func NewChunkWriter(m *ChunkManager) *ChunkWriter {
	return &ChunkWriter{manager: m}
}

// SetRotateListener sets l, call it before writing.
func (w *ChunkWriter) SetRotateListener(l RotateListener) {
	w.onRotate = l
}

// Open makes sure there is an active chunk.
func (w *ChunkWriter) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.activeChunk()
	return err
}

func (w *ChunkWriter) activeChunk() (*chunk.Chunk, error) {
	if c := w.manager.ActiveChunk(); c != nil {
		return c, nil
	}
	return w.manager.AddNewChunk()
}

// Write appends record, returns its global position.
func (w *ChunkWriter) Write(record chunk.Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, err := w.activeChunk()
	if err != nil {
		return 0, err
	}
	pos, err := c.Write(record)
	if !errors.Is(err, chunk.ErrChunkFull) {
		return pos, err
	}

	next, err := w.rotate(c)
	if err != nil {
		return 0, err
	}
	return next.Write(record)
}

func (w *ChunkWriter) rotate(full *chunk.Chunk) (*chunk.Chunk, error) {
	completed, err := w.manager.CompleteActiveChunk()
	if err != nil {
		return nil, err
	}
	next, err := w.manager.AddNewChunk()
	if err != nil {
		return nil, err
	}
	w.manager.logger.Infof("%s rotate from chunk %d to %d", w.manager.name, full.Number(), next.Number())
	w.manager.TryCacheChunk(completed)
	if w.onRotate != nil {
		w.onRotate(completed, next)
	}
	return next, nil
}

// Flush syncs the active chunk.
func (w *ChunkWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c := w.manager.ActiveChunk(); c != nil {
		return c.Flush()
	}
	return nil
}

// Close flushes the active chunk, the chunks are closed by the manager.
func (w *ChunkWriter) Close() error {
	return w.Flush()
}
