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

// Package chunk implements the append-only chunk file.
//
//	[ChunkHeader 128B][records ... DataTotalSize][bloom filter block FilterSize][ChunkFooter 128B]
//
// A chunk is created active, appended by one writer at a time and
// completed when it is full. Completed chunks are read-only and may be
// cached in memory.
package chunk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/cubefs/infrakit/util/bloom"
	"github.com/cubefs/infrakit/util/bytespool"
	"github.com/cubefs/infrakit/util/log"
)

type State int32

const (
	StateCreating State = iota
	StateActive
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const scanBufferSize = 64 << 10

type cacheHolder struct{ c *cache }

// Chunk one chunk file. Reads need no lock beyond the file guard, the
// written length is published after the record is on file.
type Chunk struct {
	path   string
	config *Config
	logger log.Logger
	header *ChunkHeader

	// writeMu serializes Write and Complete.
	writeMu sync.Mutex
	// mu guards the file against Complete and Close.
	mu          sync.RWMutex
	file        *os.File
	closed      bool
	footer      *ChunkFooter
	bloomFilter *ChunkBloomFilter

	state   int32
	dataPos int64

	filter         *bloom.BloomFilter
	minKey, maxKey string
	hasKey         bool

	cache      atomic.Value
	caching    int32
	lastActive int64
	stats      Stats
}

func newChunk(path string, cfg *Config, header *ChunkHeader) *Chunk {
	c := &Chunk{
		path:   path,
		config: cfg,
		logger: cfg.Logger,
		header: header,
		state:  int32(StateCreating),
	}
	c.touch()
	return c
}

// CreateNew creates chunk number at path, the header is written to
// tempPath and renamed to path after synced.
func CreateNew(path, tempPath string, number int64, cfg *Config) (*Chunk, error) {
	cfg.FillDefault()
	header := NewChunkHeader(cfg.ChunkType, number, cfg.DataSize, cfg.FilterSize)
	c := newChunk(path, cfg, header)

	f, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "create chunk %d", number)
	}
	cleanup := func() {
		f.Close()
		os.Remove(tempPath)
	}
	if _, err = f.WriteAt(header.Marshal(), 0); err != nil {
		cleanup()
		return nil, errors.Wrapf(err, "write header of chunk %d", number)
	}
	if err = f.Sync(); err != nil {
		cleanup()
		return nil, errors.Wrapf(err, "sync chunk %d", number)
	}
	if err = os.Rename(tempPath, path); err != nil {
		cleanup()
		return nil, errors.Wrapf(err, "rename chunk %d", number)
	}

	c.file = f
	c.initFilter()
	atomic.StoreInt32(&c.state, int32(StateActive))
	c.logger.Infof("chunk %d created at %s", number, path)
	return c, nil
}

// Open loads an existing chunk file. A file with a valid footer is a
// completed chunk, otherwise the records are scanned to find the end
// and a torn tail is truncated.
func Open(path string, cfg *Config) (*Chunk, error) {
	cfg.FillDefault()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open chunk %s", path)
	}
	c, err := open(path, f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func open(path string, f *os.File, cfg *Config) (*Chunk, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat chunk %s", path)
	}
	buf := make([]byte, HeaderSize)
	if _, err = f.ReadAt(buf, 0); err != nil {
		if err == io.EOF {
			return nil, errors.Wrapf(ErrInvalidHeader, "chunk %s size %d", path, st.Size())
		}
		return nil, errors.Wrapf(err, "read header of chunk %s", path)
	}
	header, err := UnmarshalChunkHeader(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "chunk %s", path)
	}
	c := newChunk(path, cfg, header)

	if st.Size() == header.FileSize() {
		footer, err := readFooter(f, header)
		if err == nil && footer.DataTotalSize <= header.DataTotalSize {
			return c, c.openCompleted(f, footer)
		}
		c.logger.Warnf("chunk %s has no valid footer: %v, recover as active", path, err)
	}

	end, err := c.scan(f, st.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "scan chunk %s", path)
	}
	if end > 0 && cfg.RecordFactory == nil {
		c.dropFilter("no record factory to rebuild keys")
	}
	if size := HeaderSize + end; st.Size() > size {
		c.logger.Warnf("chunk %s truncate torn tail from %d to %d", path, st.Size(), size)
		if err = f.Truncate(size); err != nil {
			return nil, errors.Wrapf(err, "truncate chunk %s", path)
		}
	}
	c.file = f
	atomic.StoreInt64(&c.dataPos, end)
	atomic.StoreInt32(&c.state, int32(StateActive))
	return c, nil
}

func readFooter(f *os.File, header *ChunkHeader) (*ChunkFooter, error) {
	buf := make([]byte, FooterSize)
	if _, err := f.ReadAt(buf, header.footerOffset()); err != nil {
		return nil, err
	}
	return UnmarshalChunkFooter(buf)
}

func (c *Chunk) openCompleted(f *os.File, footer *ChunkFooter) error {
	if footer.FilterTotalSize > 0 {
		block := make([]byte, c.header.FilterSize)
		if _, err := f.ReadAt(block, c.header.filterOffset()); err != nil {
			return errors.Wrapf(err, "read bloom filter of chunk %s", c.path)
		}
		bf, err := UnmarshalChunkBloomFilter(block)
		if err != nil {
			c.logger.Warnf("chunk %s bloom filter: %v", c.path, err)
		} else {
			c.bloomFilter = bf
		}
	}

	ro, err := os.Open(c.path)
	if err != nil {
		return errors.Wrapf(err, "reopen chunk %s", c.path)
	}
	f.Close()
	c.file = ro
	c.footer = footer
	atomic.StoreInt64(&c.dataPos, footer.DataTotalSize)
	atomic.StoreInt32(&c.state, int32(StateCompleted))
	return nil
}

// scan returns the end of the last whole record.
func (c *Chunk) scan(f *os.File, fileSize int64) (int64, error) {
	limit := fileSize - HeaderSize
	if limit > c.header.DataTotalSize {
		limit = c.header.DataTotalSize
	}
	c.initFilter()
	if limit <= 0 {
		return 0, nil
	}

	r := bufio.NewReaderSize(io.NewSectionReader(f, HeaderSize, limit), scanBufferSize)
	factory := c.config.RecordFactory
	var (
		pos  int64
		word [4]byte
	)
	for pos+recordFrameSize <= limit {
		if _, err := io.ReadFull(r, word[:]); err != nil {
			return pos, ignoreEOF(err)
		}
		n := int64(int32(le.Uint32(word[:])))
		if n <= 0 || pos+recordFrameSize+n > limit {
			break
		}
		if factory != nil && c.filter != nil {
			payload := make([]byte, n)
			if _, err := io.ReadFull(r, payload); err != nil {
				return pos, ignoreEOF(err)
			}
			rec, err := factory(payload)
			if err != nil {
				c.dropFilter(fmt.Sprintf("record at %d: %v", pos, err))
			} else if k, ok := rec.(Keyed); ok {
				c.addKey(k.Key())
			}
		} else if _, err := r.Discard(int(n)); err != nil {
			return pos, ignoreEOF(err)
		}
		if _, err := io.ReadFull(r, word[:]); err != nil {
			return pos, ignoreEOF(err)
		}
		if int64(int32(le.Uint32(word[:]))) != n {
			break
		}
		pos += recordFrameSize + n
	}
	return pos, nil
}

func ignoreEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil
	}
	return err
}

func (c *Chunk) initFilter() {
	if c.header.FilterSize > 0 && c.filter == nil {
		c.filter = bloom.NewWithEstimates(c.config.FilterItems, c.config.FilterFalsePositive)
	}
}

// dropFilter gives up the bloom filter of written records that can
// not be rebuilt, the chunk completes without a filter block.
func (c *Chunk) dropFilter(reason string) {
	if c.filter == nil {
		return
	}
	c.filter = nil
	c.hasKey = false
	c.logger.Warnf("chunk %d drops bloom filter: %s", c.Number(), reason)
}

func (c *Chunk) addKey(key string) {
	if c.filter == nil {
		return
	}
	c.filter.AddKey(key)
	if !c.hasKey || key < c.minKey {
		c.minKey = key
	}
	if !c.hasKey || key > c.maxKey {
		c.maxKey = key
	}
	c.hasKey = true
}

func (c *Chunk) touch() {
	atomic.StoreInt64(&c.lastActive, c.config.Clock.Now().UnixNano())
}

func (c *Chunk) Path() string              { return c.path }
func (c *Chunk) Number() int64             { return c.header.ChunkNumber }
func (c *Chunk) Header() *ChunkHeader      { return c.header }
func (c *Chunk) State() State              { return State(atomic.LoadInt32(&c.state)) }
func (c *Chunk) IsCompleted() bool         { return c.State() == StateCompleted }
func (c *Chunk) Stats() Stats              { return c.stats.Snapshot() }
func (c *Chunk) LastActiveTime() time.Time { return time.Unix(0, atomic.LoadInt64(&c.lastActive)) }
func (c *Chunk) DataPosition() int64       { return atomic.LoadInt64(&c.dataPos) }
func (c *Chunk) GlobalDataPosition() int64 { return c.header.DataStartPos + c.DataPosition() }

// Contains returns true if globalPos is in the data range of the chunk.
func (c *Chunk) Contains(globalPos int64) bool {
	return globalPos >= c.header.DataStartPos && globalPos < c.header.DataEndPos
}

func (c *Chunk) Footer() *ChunkFooter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.footer
}

// BloomFilter returns nil if the chunk is active or has no filter.
func (c *Chunk) BloomFilter() *ChunkBloomFilter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bloomFilter
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk(%d %s %s pos:%d)", c.Number(), c.State(), c.path, c.DataPosition())
}

// Write appends record, returns its global position.
func (c *Chunk) Write(record Record) (int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != StateActive {
		return 0, ErrChunkNotWritable
	}

	pos := c.DataPosition()
	data, err := encodeRecord(record, c.header.DataStartPos+pos)
	if err != nil {
		return 0, err
	}
	defer bytespool.Free(data)
	size := int64(len(data))
	if size > c.header.DataTotalSize {
		return 0, ErrRecordTooLarge
	}
	if pos+size > c.header.DataTotalSize {
		return 0, ErrChunkFull
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return 0, ErrChunkClosed
	}
	_, err = c.file.WriteAt(data, HeaderSize+pos)
	if err == nil && c.config.SyncOnWrite {
		err = c.file.Sync()
	}
	if err != nil {
		if terr := c.file.Truncate(HeaderSize + pos); terr != nil {
			c.logger.Errorf("chunk %d truncate after failed write: %v", c.Number(), terr)
		}
	}
	c.mu.RUnlock()
	if err != nil {
		return 0, errors.Wrapf(err, "write chunk %d at %d", c.Number(), pos)
	}

	atomic.StoreInt64(&c.dataPos, pos+size)
	c.stats.addWritten(size)
	c.touch()
	if k, ok := record.(Keyed); ok {
		c.addKey(k.Key())
	}
	return c.header.DataStartPos + pos, nil
}

// TryReadAt reads the record at local position, returns nil record if
// nothing is written there yet.
func (c *Chunk) TryReadAt(localPos int64, factory RecordFactory) (Record, error) {
	if localPos < 0 {
		return nil, ErrInvalidPosition
	}
	dataLen := c.DataPosition()
	if localPos >= dataLen {
		return nil, nil
	}
	c.touch()

	if ch := c.loadCache(); ch != nil {
		payload, err := ch.readAt(localPos, dataLen)
		if err == nil {
			if ch.mode == CacheModeMmap {
				c.stats.incUnmanaged()
			} else {
				c.stats.incCache()
			}
			return factory(payload)
		}
		if err != errCacheReleased {
			return nil, err
		}
	}

	payload, err := c.readFile(localPos, dataLen)
	if err != nil {
		return nil, err
	}
	c.stats.incFile()
	return factory(payload)
}

func (c *Chunk) readFile(pos, dataLen int64) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrChunkClosed
	}
	if pos+recordFrameSize > dataLen {
		return nil, ErrCorruptRecord
	}

	var word [4]byte
	if _, err := c.file.ReadAt(word[:], HeaderSize+pos); err != nil {
		return nil, errors.Wrapf(err, "read chunk %d at %d", c.Number(), pos)
	}
	n := int64(int32(le.Uint32(word[:])))
	if n <= 0 || pos+recordFrameSize+n > dataLen {
		return nil, ErrCorruptRecord
	}
	buf := make([]byte, n+4)
	if _, err := c.file.ReadAt(buf, HeaderSize+pos+4); err != nil {
		return nil, errors.Wrapf(err, "read chunk %d at %d", c.Number(), pos)
	}
	if int64(int32(le.Uint32(buf[n:]))) != n {
		return nil, ErrCorruptRecord
	}
	return buf[:n], nil
}

// Flush syncs written records to disk.
func (c *Chunk) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.State() != StateActive {
		return nil
	}
	return errors.Wrapf(c.file.Sync(), "sync chunk %d", c.Number())
}

// Complete writes the bloom filter block and the footer, and turns
// the chunk read-only.
func (c *Chunk) Complete() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChunkClosed
	}
	if c.State() == StateCompleted {
		return nil
	}

	dataLen := c.DataPosition()
	var filterTotal int64
	bf := c.buildBloomFilter()
	if c.header.FilterSize > 0 {
		var block []byte
		if bf != nil {
			block = bf.Marshal()
			filterTotal = bf.ContentSize()
		} else {
			block = bytespool.Alloc(int(c.header.FilterSize))
			bytespool.Zero(block)
			defer bytespool.Free(block)
		}
		if _, err := c.file.WriteAt(block, c.header.filterOffset()); err != nil {
			return errors.Wrapf(err, "write bloom filter of chunk %d", c.Number())
		}
	}

	footer := NewChunkFooter(dataLen, filterTotal)
	if _, err := c.file.WriteAt(footer.Marshal(), c.header.footerOffset()); err != nil {
		return errors.Wrapf(err, "write footer of chunk %d", c.Number())
	}
	if err := c.file.Sync(); err != nil {
		return errors.Wrapf(err, "sync chunk %d", c.Number())
	}
	got, err := readFooter(c.file, c.header)
	if err != nil {
		return errors.Wrapf(err, "verify footer of chunk %d", c.Number())
	}
	if *got != *footer {
		return errors.Wrapf(ErrInvalidFooter, "verify footer of chunk %d", c.Number())
	}

	ro, err := os.Open(c.path)
	if err != nil {
		return errors.Wrapf(err, "reopen chunk %d", c.Number())
	}
	c.file.Close()
	c.file = ro
	c.footer = footer
	c.bloomFilter = bf
	c.filter = nil
	atomic.StoreInt32(&c.state, int32(StateCompleted))
	c.logger.Infof("chunk %d completed, data %d bytes, filter %d bytes", c.Number(), dataLen, filterTotal)
	return nil
}

func (c *Chunk) buildBloomFilter() *ChunkBloomFilter {
	if c.header.FilterSize <= 0 || c.filter == nil || !c.hasKey {
		return nil
	}
	data, err := c.filter.Marshal()
	if err != nil {
		c.logger.Warnf("chunk %d marshal bloom filter: %v", c.Number(), err)
		return nil
	}
	bf, err := NewChunkBloomFilter(c.header.FilterSize, c.minKey, c.maxKey, data)
	if err != nil {
		c.logger.Warnf("chunk %d bloom filter of %d bytes not written: %v", c.Number(), len(data), err)
		return nil
	}
	return bf
}

func (c *Chunk) loadCache() *cache {
	h, ok := c.cache.Load().(cacheHolder)
	if !ok {
		return nil
	}
	return h.c
}

func (c *Chunk) IsCached() bool { return c.loadCache() != nil }

// CachedBytes returns bytes held by the cache.
func (c *Chunk) CachedBytes() int {
	if ch := c.loadCache(); ch != nil {
		return ch.size()
	}
	return 0
}

// CacheInMemory caches data of the completed chunk, it is a no-op if
// cached or being cached.
func (c *Chunk) CacheInMemory(mode CacheMode) error {
	if c.State() != StateCompleted {
		return ErrChunkNotCompleted
	}
	if c.IsCached() || !atomic.CompareAndSwapInt32(&c.caching, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&c.caching, 0)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrChunkClosed
	}
	ch, err := newCache(c.file, mode, c.DataPosition())
	if err != nil {
		c.mu.RUnlock()
		return errors.Wrapf(err, "cache chunk %d", c.Number())
	}
	c.cache.Store(cacheHolder{ch})
	c.mu.RUnlock()
	c.logger.Debugf("chunk %d cached in %s", c.Number(), mode)
	return nil
}

// UnCache drops the cache after running reads on it finished.
func (c *Chunk) UnCache() error {
	old, ok := c.cache.Swap(cacheHolder{}).(cacheHolder)
	if !ok || old.c == nil {
		return nil
	}
	c.logger.Debugf("chunk %d uncached", c.Number())
	return old.c.release()
}

// Close releases the cache and the file.
func (c *Chunk) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.UnCache(); err != nil {
		c.logger.Warnf("chunk %d uncache: %v", c.Number(), err)
	}
	return errors.Wrapf(c.file.Close(), "close chunk %d", c.Number())
}

// Destroy closes and removes the chunk file.
func (c *Chunk) Destroy() error {
	if err := c.Close(); err != nil {
		c.logger.Warnf("destroy %s: %v", c, err)
	}
	return errors.Wrapf(os.Remove(c.path), "remove chunk %d", c.Number())
}
