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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/infrakit/util/bloom"
	"github.com/cubefs/infrakit/util/bytespool"
)

func testConfig() *Config {
	return &Config{DataSize: 4 << 10, FilterSize: 1 << 10, FilterItems: 100}
}

func newTestChunk(t *testing.T, number int64, cfg *Config) *Chunk {
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("chunk.%06d", number))
	c, err := CreateNew(path, path+".tmp", number, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readBytes(t *testing.T, c *Chunk, globalPos int64) []byte {
	rec, err := c.TryReadAt(globalPos-c.Header().DataStartPos, BytesRecordFactory)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return []byte(rec.(BytesRecord))
}

func TestHeaderFooter(t *testing.T) {
	h := NewChunkHeader(3, 5, 1<<20, 4096)
	require.Equal(t, int64(5<<20), h.DataStartPos)
	require.Equal(t, int64(6<<20), h.DataEndPos)
	buf := h.Marshal()
	require.Len(t, buf, HeaderSize)
	got, err := UnmarshalChunkHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)

	buf[20] ^= 0xff
	_, err = UnmarshalChunkHeader(buf)
	require.ErrorIs(t, err, ErrInvalidHeader)
	_, err = UnmarshalChunkHeader(buf[:64])
	require.ErrorIs(t, err, ErrInvalidHeader)

	f := NewChunkFooter(1234, 56)
	fbuf := f.Marshal()
	require.Len(t, fbuf, FooterSize)
	gotf, err := UnmarshalChunkFooter(fbuf)
	require.NoError(t, err)
	require.Equal(t, f, gotf)
	fbuf[0] ^= 0xff
	_, err = UnmarshalChunkFooter(fbuf)
	require.ErrorIs(t, err, ErrInvalidFooter)
	_, err = UnmarshalChunkFooter(make([]byte, FooterSize))
	require.ErrorIs(t, err, ErrInvalidFooter)
}

func TestChunkBloomFilter(t *testing.T) {
	filter := bloom.NewWithEstimates(100, 0.01)
	filter.AddKey("b")
	filter.AddKey("d")
	data, err := filter.Marshal()
	require.NoError(t, err)

	_, err = NewChunkBloomFilter(int64(len(data)), "b", "d", data)
	require.ErrorIs(t, err, ErrBloomFilterOversize)

	size := int64(bloomFilterFixedSize + 2 + len(data))
	bf, err := NewChunkBloomFilter(size, "b", "d", data)
	require.NoError(t, err)
	block := bf.Marshal()
	require.Len(t, block, int(size))

	got, err := UnmarshalChunkBloomFilter(append(block, make([]byte, 100)...))
	require.NoError(t, err)
	require.Equal(t, "b", got.MinKey)
	require.Equal(t, "d", got.MaxKey)
	require.Equal(t, data, got.FilterBytes)
	require.True(t, got.MayContain("b"))
	require.True(t, got.MayContain("d"))
	require.False(t, got.MayContain("a"))
	require.False(t, got.MayContain("e"))
	require.True(t, got.InRange("c"))

	_, err = UnmarshalChunkBloomFilter(block[:5])
	require.ErrorIs(t, err, ErrInvalidBloomFilter)
	_, err = UnmarshalChunkBloomFilter(make([]byte, 64))
	require.ErrorIs(t, err, ErrInvalidBloomFilter)
}

func TestChunkWriteRead(t *testing.T) {
	c := newTestChunk(t, 2, testConfig())
	require.Equal(t, StateActive, c.State())
	require.Equal(t, int64(2*4<<10), c.GlobalDataPosition())

	var (
		positions []int64
		records   [][]byte
	)
	for ii := 0; ii < 50; ii++ {
		rec := []byte(fmt.Sprintf("record-%d", ii))
		pos, err := c.Write(BytesRecord(rec))
		require.NoError(t, err)
		require.True(t, c.Contains(pos))
		positions = append(positions, pos)
		records = append(records, rec)
	}
	require.Equal(t, positions[0], c.Header().DataStartPos)

	check := func(c *Chunk) {
		for ii, pos := range positions {
			require.Equal(t, records[ii], readBytes(t, c, pos))
		}
		rec, err := c.TryReadAt(c.DataPosition(), BytesRecordFactory)
		require.NoError(t, err)
		require.Nil(t, rec)
		_, err = c.TryReadAt(-1, BytesRecordFactory)
		require.ErrorIs(t, err, ErrInvalidPosition)
	}
	check(c)
	require.NoError(t, c.Flush())

	dataLen := c.DataPosition()
	require.NoError(t, c.Complete())
	require.NoError(t, c.Complete())
	require.Equal(t, StateCompleted, c.State())
	require.Equal(t, dataLen, c.Footer().DataTotalSize)
	_, err := c.Write(BytesRecord("late"))
	require.ErrorIs(t, err, ErrChunkNotWritable)
	check(c)

	require.NoError(t, c.Close())
	fi, err := os.Stat(c.Path())
	require.NoError(t, err)
	require.Equal(t, c.Header().FileSize(), fi.Size())

	reopened, err := Open(c.Path(), testConfig())
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, StateCompleted, reopened.State())
	require.Equal(t, dataLen, reopened.DataPosition())
	check(reopened)
	require.True(t, reopened.Stats().FileReads > 0)
}

func TestChunkCache(t *testing.T) {
	for _, mode := range []CacheMode{CacheModeMemory, CacheModeMmap} {
		t.Run(mode.String(), func(t *testing.T) {
			c := newTestChunk(t, 0, testConfig())
			var positions []int64
			for ii := 0; ii < 20; ii++ {
				pos, err := c.Write(BytesRecord(fmt.Sprintf("value-%d", ii)))
				require.NoError(t, err)
				positions = append(positions, pos)
			}
			require.ErrorIs(t, c.CacheInMemory(mode), ErrChunkNotCompleted)
			require.NoError(t, c.Complete())

			require.NoError(t, c.CacheInMemory(mode))
			require.True(t, c.IsCached())
			require.Equal(t, int(c.DataPosition()), c.CachedBytes())
			require.NoError(t, c.CacheInMemory(mode))

			before := c.Stats()
			for ii, pos := range positions {
				require.Equal(t, fmt.Sprintf("value-%d", ii), string(readBytes(t, c, pos)))
			}
			delta := c.Stats().Sub(before)
			require.Equal(t, int64(0), delta.FileReads)
			if mode == CacheModeMmap {
				require.Equal(t, int64(len(positions)), delta.UnmanagedReads)
			} else {
				require.Equal(t, int64(len(positions)), delta.CacheReads)
			}

			require.NoError(t, c.UnCache())
			require.False(t, c.IsCached())
			require.NoError(t, c.UnCache())
			before = c.Stats()
			for ii, pos := range positions {
				require.Equal(t, fmt.Sprintf("value-%d", ii), string(readBytes(t, c, pos)))
			}
			require.Equal(t, int64(len(positions)), c.Stats().Sub(before).FileReads)
		})
	}
}

func TestChunkCacheConcurrentReads(t *testing.T) {
	c := newTestChunk(t, 0, testConfig())
	var positions []int64
	for ii := 0; ii < 30; ii++ {
		pos, err := c.Write(BytesRecord(fmt.Sprintf("v%03d", ii)))
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	require.NoError(t, c.Complete())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for ii := 0; ii < 4; ii++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for jj, pos := range positions {
					rec, err := c.TryReadAt(pos, BytesRecordFactory)
					if err != nil {
						errCh <- err
						return
					}
					if string(rec.(BytesRecord)) != fmt.Sprintf("v%03d", jj) {
						errCh <- fmt.Errorf("bad record at %d", pos)
						return
					}
				}
			}
		}()
	}
	for ii := 0; ii < 50; ii++ {
		mode := CacheModeMemory
		if ii%2 == 0 {
			mode = CacheModeMmap
		}
		require.NoError(t, c.CacheInMemory(mode))
		require.NoError(t, c.UnCache())
	}
	close(stop)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestChunkWriteLimits(t *testing.T) {
	cfg := testConfig()
	c := newTestChunk(t, 0, cfg)

	_, err := c.Write(BytesRecord(nil))
	require.ErrorIs(t, err, ErrEmptyRecord)
	_, err = c.Write(BytesRecord(make([]byte, cfg.DataSize)))
	require.ErrorIs(t, err, ErrRecordTooLarge)

	rec := make([]byte, 1000)
	written := 0
	for {
		_, err = c.Write(BytesRecord(rec))
		if err != nil {
			break
		}
		written++
	}
	require.ErrorIs(t, err, ErrChunkFull)
	require.Equal(t, int(cfg.DataSize)/(len(rec)+recordFrameSize), written)
	require.Equal(t, int64(written*(len(rec)+recordFrameSize)), c.Stats().BytesWritten)

	_, err = c.Write(BytesRecord("fits"))
	require.NoError(t, err)
}

func TestChunkRecoverTornTail(t *testing.T) {
	cfg := testConfig()
	c := newTestChunk(t, 1, cfg)
	var positions []int64
	for ii := 0; ii < 10; ii++ {
		pos, err := c.Write(BytesRecord(fmt.Sprintf("r%d", ii)))
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	end := c.DataPosition()
	require.NoError(t, c.Close())

	// length of a record whose payload never made it
	f, err := os.OpenFile(c.Path(), os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{100, 0, 0, 0, 'x', 'y'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(c.Path(), cfg)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, StateActive, reopened.State())
	require.Equal(t, end, reopened.DataPosition())
	fi, err := os.Stat(c.Path())
	require.NoError(t, err)
	require.Equal(t, HeaderSize+end, fi.Size())

	for ii, pos := range positions {
		require.Equal(t, fmt.Sprintf("r%d", ii), string(readBytes(t, reopened, pos)))
	}
	pos, err := reopened.Write(BytesRecord("after"))
	require.NoError(t, err)
	require.Equal(t, reopened.Header().DataStartPos+end, pos)
	require.Equal(t, "after", string(readBytes(t, reopened, pos)))
}

func TestChunkRecoverMismatchedTrailer(t *testing.T) {
	cfg := testConfig()
	c := newTestChunk(t, 0, cfg)
	_, err := c.Write(BytesRecord("keep"))
	require.NoError(t, err)
	end := c.DataPosition()
	_, err = c.Write(BytesRecord("lost"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	f, err := os.OpenFile(c.Path(), os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{9, 9, 9, 9}, HeaderSize+end+4+4)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(c.Path(), cfg)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, end, reopened.DataPosition())
}

func TestChunkOpenInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))
	_, err := Open(path, testConfig())
	require.ErrorIs(t, err, ErrInvalidHeader)

	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize), 0o644))
	_, err = Open(path, testConfig())
	require.ErrorIs(t, err, ErrInvalidHeader)

	_, err = Open(filepath.Join(t.TempDir(), "missing"), testConfig())
	require.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestChunkKeyedBloomFilter(t *testing.T) {
	cfg := testConfig()
	cfg.RecordFactory = KeyedRecordFactory
	c := newTestChunk(t, 0, cfg)
	for _, k := range []string{"m", "c", "x", "f"} {
		_, err := c.Write(&KeyedRecord{K: k, Value: []byte("v-" + k)})
		require.NoError(t, err)
	}
	require.Nil(t, c.BloomFilter())
	require.NoError(t, c.Close())

	// keys are rebuilt from records of the reopened active chunk
	active, err := Open(c.Path(), cfg)
	require.NoError(t, err)
	require.Equal(t, StateActive, active.State())
	rec, err := active.TryReadAt(0, KeyedRecordFactory)
	require.NoError(t, err)
	require.Equal(t, "m", rec.(*KeyedRecord).Key())
	require.Equal(t, "v-m", string(rec.(*KeyedRecord).Value))
	require.NoError(t, active.Complete())
	require.NoError(t, active.Close())

	completed, err := Open(c.Path(), cfg)
	require.NoError(t, err)
	defer completed.Close()
	bf := completed.BloomFilter()
	require.NotNil(t, bf)
	require.Equal(t, "c", bf.MinKey)
	require.Equal(t, "x", bf.MaxKey)
	for _, k := range []string{"m", "c", "x", "f"} {
		require.True(t, bf.MayContain(k))
	}
	require.False(t, bf.MayContain("a"))
	require.False(t, bf.MayContain("z"))
	require.Equal(t, bf.ContentSize(), completed.Footer().FilterTotalSize)
}

func TestChunkReopenWithoutRecordFactory(t *testing.T) {
	cfg := testConfig()
	c := newTestChunk(t, 0, cfg)
	for _, k := range []string{"m", "c"} {
		_, err := c.Write(&KeyedRecord{K: k, Value: []byte("v-" + k)})
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())

	// keys written before reopen are unknown, so no filter is trusted
	active, err := Open(c.Path(), cfg)
	require.NoError(t, err)
	_, err = active.Write(&KeyedRecord{K: "x", Value: []byte("v-x")})
	require.NoError(t, err)
	require.NoError(t, active.Complete())
	require.Nil(t, active.BloomFilter())
	require.Equal(t, int64(0), active.Footer().FilterTotalSize)
	require.NoError(t, active.Close())

	completed, err := Open(c.Path(), cfg)
	require.NoError(t, err)
	defer completed.Close()
	require.True(t, completed.IsCompleted())
	require.Nil(t, completed.BloomFilter())

	// an empty chunk has nothing to rebuild
	empty := newTestChunk(t, 1, cfg)
	require.NoError(t, empty.Close())
	reopened, err := Open(empty.Path(), cfg)
	require.NoError(t, err)
	_, err = reopened.Write(&KeyedRecord{K: "k", Value: []byte("v")})
	require.NoError(t, err)
	require.NoError(t, reopened.Complete())
	defer reopened.Close()
	require.NotNil(t, reopened.BloomFilter())
	require.True(t, reopened.BloomFilter().MayContain("k"))
}

func TestChunkBloomFilterNotFit(t *testing.T) {
	cfg := testConfig()
	cfg.FilterSize = 16
	c := newTestChunk(t, 0, cfg)
	_, err := c.Write(&KeyedRecord{K: "key", Value: []byte("v")})
	require.NoError(t, err)
	require.NoError(t, c.Complete())
	require.Nil(t, c.BloomFilter())
	require.Equal(t, int64(0), c.Footer().FilterTotalSize)
}

func TestChunkPooledBuffers(t *testing.T) {
	cfg := testConfig()
	dirty := func(size int) {
		b := bytespool.Alloc(size)
		for ii := range b {
			b[ii] = 0xff
		}
		bytespool.Free(b)
	}

	c := newTestChunk(t, 0, cfg)
	var positions []int64
	sizes := []int{10, 600, 20, 1500, 1}
	for _, size := range sizes {
		dirty(encodeBufferSize)
		pos, err := c.Write(BytesRecord(bytes.Repeat([]byte{'a' + byte(size%26)}, size)))
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	for ii, pos := range positions {
		require.Equal(t, bytes.Repeat([]byte{'a' + byte(sizes[ii]%26)}, sizes[ii]), readBytes(t, c, pos))
	}

	dirty(int(cfg.FilterSize))
	require.NoError(t, c.Complete())
	require.Nil(t, c.BloomFilter())
	require.NoError(t, c.Close())

	f, err := os.Open(c.Path())
	require.NoError(t, err)
	defer f.Close()
	block := make([]byte, cfg.FilterSize)
	_, err = f.ReadAt(block, c.Header().filterOffset())
	require.NoError(t, err)
	require.Equal(t, make([]byte, cfg.FilterSize), block)

	reopened, err := Open(c.Path(), cfg)
	require.NoError(t, err)
	defer reopened.Close()
	require.Nil(t, reopened.BloomFilter())
	for ii, pos := range positions {
		require.Len(t, readBytes(t, reopened, pos), sizes[ii])
	}
}

func TestChunkDestroy(t *testing.T) {
	c := newTestChunk(t, 0, testConfig())
	_, err := c.Write(BytesRecord("x"))
	require.NoError(t, err)
	require.NoError(t, c.Destroy())
	_, err = os.Stat(c.Path())
	require.True(t, os.IsNotExist(err))
	_, err = c.TryReadAt(0, BytesRecordFactory)
	require.ErrorIs(t, err, ErrChunkClosed)
}

func TestParseCacheMode(t *testing.T) {
	mode, err := ParseCacheMode("")
	require.NoError(t, err)
	require.Equal(t, CacheModeMemory, mode)
	mode, err = ParseCacheMode("Unmanaged")
	require.NoError(t, err)
	require.Equal(t, CacheModeMmap, mode)
	_, err = ParseCacheMode("disk")
	require.Error(t, err)
}
