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

// Package storage manages sets of chunk files: loading, rotation,
// caching policy and positional reads over a global byte position.
package storage

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cubefs/infrakit/storage/chunk"
	"github.com/cubefs/infrakit/util/log"
	"github.com/cubefs/infrakit/util/scheduler"
)

var (
	ErrChunkNotExist       = errors.New("storage: chunk not exist")
	ErrRemoveActiveChunk   = errors.New("storage: remove active chunk")
	ErrNoActiveChunk       = errors.New("storage: no active chunk")
	ErrManagerClosed       = errors.New("storage: manager closed")
	ErrChunkNumberMismatch = errors.New("storage: chunk number mismatch")
	ErrChunkSizeMismatch   = errors.New("storage: chunk size mismatch")
)

// ChunkManager owns the chunks under a base path. Only the last chunk
// is active, all others are completed.
type ChunkManager struct {
	name        string
	config      *Config
	chunkConfig *chunk.Config
	cacheMode   chunk.CacheMode
	naming      FileNamingStrategy
	sched       scheduler.Scheduler
	logger      log.Logger

	mu         sync.RWMutex
	chunks     map[int64]*chunk.Chunk
	active     *chunk.Chunk
	nextNumber int64
	closed     bool

	// cached chunks ordered by recency of use
	cached     *lru.Cache
	uncaching  int32
	precaching int32
	// background cache loads, joined by Close
	loaders sync.WaitGroup

	statMu    sync.Mutex
	lastStats map[int64]chunk.Stats

	taskIDs []int64
}

// NewChunkManager returns a manager, call Load before use.
func NewChunkManager(name string, cfg *Config, sched scheduler.Scheduler) (*ChunkManager, error) {
	cfg.FillDefault()
	if err := cfg.verify(); err != nil {
		return nil, err
	}
	mode, _ := chunk.ParseCacheMode(cfg.CacheMode)
	chunkConfig := cfg.chunkConfig()
	chunkConfig.FillDefault()
	m := &ChunkManager{
		name:        name,
		config:      cfg,
		chunkConfig: chunkConfig,
		cacheMode:   mode,
		naming:      cfg.Naming,
		sched:       sched,
		logger:      cfg.Logger,
		chunks:      make(map[int64]*chunk.Chunk),
		lastStats:   make(map[int64]chunk.Stats),
	}
	cached, err := lru.NewWithEvict(cfg.MaxCachedChunkCount, m.onEvicted)
	if err != nil {
		return nil, err
	}
	m.cached = cached
	return m, nil
}

func (m *ChunkManager) Name() string { return m.name }

func (m *ChunkManager) ChunkDataSize() int64 { return m.config.ChunkDataSize }

func (m *ChunkManager) onEvicted(key, value interface{}) {
	c := value.(*chunk.Chunk)
	if err := c.UnCache(); err != nil {
		m.logger.Warnf("%s uncache %s: %v", m.name, c, err)
	}
}

// Load opens chunk files of the base path. Temp files are removed, and
// an active chunk that is not the last one is completed.
func (m *ChunkManager) Load(ctx context.Context) error {
	if err := os.MkdirAll(m.config.BasePath, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", m.config.BasePath)
	}
	temps, err := m.naming.ListTempFiles(m.config.BasePath)
	if err != nil {
		return errors.Wrapf(err, "list temp files of %s", m.config.BasePath)
	}
	for _, path := range temps {
		m.logger.Warnf("%s remove temp file %s", m.name, path)
		if err = os.Remove(path); err != nil {
			return errors.Wrapf(err, "remove temp file %s", path)
		}
	}

	files, err := m.naming.ListChunks(m.config.BasePath)
	if err != nil {
		return errors.Wrapf(err, "list chunks of %s", m.config.BasePath)
	}
	numbers := make([]int64, 0, len(files))
	for n := range files {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	opened := make([]*chunk.Chunk, len(numbers))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.LoadConcurrency)
	for idx, n := range numbers {
		idx, n := idx, n
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := chunk.Open(files[n], m.chunkConfig)
			if err != nil {
				return err
			}
			opened[idx] = c
			if c.Number() != n {
				return errors.Wrapf(ErrChunkNumberMismatch, "file %s has chunk %d", files[n], c.Number())
			}
			if h := c.Header(); h.DataTotalSize != m.chunkConfig.DataSize || h.FilterSize != m.chunkConfig.FilterSize {
				return errors.Wrapf(ErrChunkSizeMismatch, "file %s has data %d filter %d, configured data %d filter %d",
					files[n], h.DataTotalSize, h.FilterSize, m.chunkConfig.DataSize, m.chunkConfig.FilterSize)
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		for _, c := range opened {
			if c != nil {
				c.Close()
			}
		}
		return err
	}

	for idx, c := range opened {
		last := idx == len(opened)-1
		if !last && !c.IsCompleted() {
			m.logger.Warnf("%s complete interrupted %s", m.name, c)
			if err = c.Complete(); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	for _, c := range opened {
		m.chunks[c.Number()] = c
	}
	if len(opened) > 0 {
		last := opened[len(opened)-1]
		if !last.IsCompleted() {
			m.active = last
		}
		m.nextNumber = last.Number() + 1
	}
	m.mu.Unlock()

	if m.config.EnableCache {
		cachedCount := 0
		for idx := len(opened) - 1; idx >= 0 && cachedCount < m.config.PreCacheChunkCount; idx-- {
			if opened[idx].IsCompleted() {
				m.cacheChunk(opened[idx])
				cachedCount++
			}
		}
		m.taskIDs = append(m.taskIDs, m.sched.ScheduleTask(m.name+".uncache", m.uncacheSweep,
			m.config.UncacheInterval, m.config.UncacheInterval))
	}
	m.taskIDs = append(m.taskIDs, m.sched.ScheduleTask(m.name+".stat", m.stat,
		m.config.StatInterval, m.config.StatInterval))

	m.logger.Infof("%s loaded %d chunks from %s, next chunk %d", m.name, len(opened), m.config.BasePath, m.nextNumber)
	return nil
}

// GetChunk returns ErrChunkNotExist if chunk n was never created or
// has been removed.
func (m *ChunkManager) GetChunk(n int64) (*chunk.Chunk, error) {
	m.mu.RLock()
	c, ok := m.chunks[n]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrChunkNotExist
	}
	return c, nil
}

// ActiveChunk returns nil if there is no active chunk.
func (m *ChunkManager) ActiveChunk() *chunk.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Chunks returns all chunks ordered by number.
func (m *ChunkManager) Chunks() []*chunk.Chunk {
	m.mu.RLock()
	chunks := make([]*chunk.Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		chunks = append(chunks, c)
	}
	m.mu.RUnlock()
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Number() < chunks[j].Number() })
	return chunks
}

func (m *ChunkManager) ChunkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// CompleteActiveChunk completes the active chunk, the manager has no
// active chunk until AddNewChunk.
func (m *ChunkManager) CompleteActiveChunk() (*chunk.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeActiveLocked()
}

func (m *ChunkManager) completeActiveLocked() (*chunk.Chunk, error) {
	c := m.active
	if c == nil {
		return nil, ErrNoActiveChunk
	}
	if err := c.Complete(); err != nil {
		return nil, err
	}
	m.active = nil
	return c, nil
}

// AddNewChunk creates the next chunk as the active one, the current
// active chunk is completed first.
func (m *ChunkManager) AddNewChunk() (*chunk.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.active != nil {
		if _, err := m.completeActiveLocked(); err != nil {
			return nil, err
		}
	}

	n := m.nextNumber
	c, err := chunk.CreateNew(m.naming.ChunkPath(m.config.BasePath, n), m.naming.TempPath(m.config.BasePath, n), n, m.chunkConfig)
	if err != nil {
		return nil, err
	}
	m.chunks[n] = c
	m.active = c
	m.nextNumber = n + 1
	return c, nil
}

// RemoveChunk destroys chunk n, the active chunk cannot be removed.
func (m *ChunkManager) RemoveChunk(n int64) error {
	m.mu.Lock()
	c, ok := m.chunks[n]
	if !ok {
		m.mu.Unlock()
		return ErrChunkNotExist
	}
	if c == m.active {
		m.mu.Unlock()
		return ErrRemoveActiveChunk
	}
	delete(m.chunks, n)
	m.mu.Unlock()

	m.cached.Remove(n)
	m.statMu.Lock()
	delete(m.lastStats, n)
	m.statMu.Unlock()
	m.logger.Infof("%s remove %s", m.name, c)
	return c.Destroy()
}

func (m *ChunkManager) cacheChunk(c *chunk.Chunk) {
	if err := c.CacheInMemory(m.cacheMode); err != nil {
		m.logger.Warnf("%s cache %s: %v", m.name, c, err)
		return
	}
	m.cached.Add(c.Number(), c)
}

// goCacheChunk caches c in a goroutine unless the manager is closed,
// done runs after it.
func (m *ChunkManager) goCacheChunk(c *chunk.Chunk, done func()) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	m.loaders.Add(1)
	go func() {
		defer m.loaders.Done()
		if done != nil {
			defer done()
		}
		m.cacheChunk(c)
	}()
	return true
}

// TryCacheChunk caches completed chunk c in background.
func (m *ChunkManager) TryCacheChunk(c *chunk.Chunk) {
	if !m.config.EnableCache || !c.IsCompleted() || c.IsCached() {
		return
	}
	m.goCacheChunk(c, nil)
}

// TryCacheNextChunk caches the chunk after c in background, at most
// one read-ahead runs at a time.
func (m *ChunkManager) TryCacheNextChunk(c *chunk.Chunk) {
	if !m.config.EnableCache {
		return
	}
	next, err := m.GetChunk(c.Number() + 1)
	if err != nil || !next.IsCompleted() || next.IsCached() {
		return
	}
	if !atomic.CompareAndSwapInt32(&m.precaching, 0, 1) {
		return
	}
	reset := func() { atomic.StoreInt32(&m.precaching, 0) }
	if !m.goCacheChunk(next, reset) {
		reset()
	}
}

// touch marks the use of cached chunk c.
func (m *ChunkManager) touch(c *chunk.Chunk) {
	if c.IsCached() {
		m.cached.Get(c.Number())
	}
}

// CachedChunkCount returns chunks cached in memory.
func (m *ChunkManager) CachedChunkCount() int { return m.cached.Len() }

func (m *ChunkManager) uncacheSweep() {
	if !atomic.CompareAndSwapInt32(&m.uncaching, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&m.uncaching, 0)

	active := m.ActiveChunk()
	now := m.config.Clock.Now()
	keys := m.cached.Keys()
	excess := len(keys) - m.config.MinCachedChunkCount
	for _, key := range keys {
		if excess <= 0 {
			break
		}
		value, ok := m.cached.Peek(key)
		if !ok {
			continue
		}
		c := value.(*chunk.Chunk)
		if c == active || now.Sub(c.LastActiveTime()) < m.config.CacheIdleTimeout {
			continue
		}
		m.cached.Remove(key)
		excess--
		m.logger.Debugf("%s uncache idle %s", m.name, c)
	}
}

func (m *ChunkManager) stat() {
	var (
		total       chunk.Stats
		cachedBytes int
		completed   int
		active      int
	)
	debug := m.logger.IsEnabled(log.Ldebug)
	chunks := m.Chunks()

	m.statMu.Lock()
	for _, c := range chunks {
		stats := c.Stats()
		delta := stats.Sub(m.lastStats[c.Number()])
		m.lastStats[c.Number()] = stats
		total.BytesWritten += delta.BytesWritten
		total.FileReads += delta.FileReads
		total.CacheReads += delta.CacheReads
		total.UnmanagedReads += delta.UnmanagedReads
		cachedBytes += c.CachedBytes()
		if c.IsCompleted() {
			completed++
		} else {
			active++
		}
		if debug && !delta.IsZero() {
			m.logger.Debugf("%s chunk %d written %s, reads file %d cache %d unmanaged %d",
				m.name, c.Number(), humanize.IBytes(uint64(delta.BytesWritten)),
				delta.FileReads, delta.CacheReads, delta.UnmanagedReads)
		}
	}
	m.statMu.Unlock()

	reportStats(m.name, total)
	chunkMetric.WithLabelValues(m.name, "completed").Set(float64(completed))
	chunkMetric.WithLabelValues(m.name, "active").Set(float64(active))
	chunkMetric.WithLabelValues(m.name, "cached").Set(float64(m.cached.Len()))
	cachedBytesMetric.WithLabelValues(m.name).Set(float64(cachedBytes))
	if debug {
		m.logger.Debugf("%s chunks %d, cached %d (%s), written %s", m.name, len(chunks),
			m.cached.Len(), humanize.IBytes(uint64(cachedBytes)), humanize.IBytes(uint64(total.BytesWritten)))
	}
}

// Close stops background tasks, waits cache loads and closes all chunks.
func (m *ChunkManager) Close() error {
	for _, id := range m.taskIDs {
		m.sched.ShutdownTask(id)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	chunks := make([]*chunk.Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		chunks = append(chunks, c)
	}
	active := m.active
	m.mu.Unlock()

	m.loaders.Wait()
	m.cached.Purge()
	var firstErr error
	if active != nil {
		if err := active.Flush(); err != nil {
			firstErr = err
		}
	}
	for _, c := range chunks {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.logger.Infof("%s closed %d chunks", m.name, len(chunks))
	return firstErr
}
