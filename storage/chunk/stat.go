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

import "sync/atomic"

// Stats I/O counters of a chunk.
type Stats struct {
	BytesWritten   int64
	FileReads      int64
	CacheReads     int64
	UnmanagedReads int64
}

func (s *Stats) addWritten(n int64) { atomic.AddInt64(&s.BytesWritten, n) }
func (s *Stats) incFile()           { atomic.AddInt64(&s.FileReads, 1) }
func (s *Stats) incCache()          { atomic.AddInt64(&s.CacheReads, 1) }
func (s *Stats) incUnmanaged()      { atomic.AddInt64(&s.UnmanagedReads, 1) }

// Snapshot returns a copy loaded field by field.
func (s *Stats) Snapshot() Stats {
	return Stats{
		BytesWritten:   atomic.LoadInt64(&s.BytesWritten),
		FileReads:      atomic.LoadInt64(&s.FileReads),
		CacheReads:     atomic.LoadInt64(&s.CacheReads),
		UnmanagedReads: atomic.LoadInt64(&s.UnmanagedReads),
	}
}

// Sub returns counters increased since old.
func (s Stats) Sub(old Stats) Stats {
	return Stats{
		BytesWritten:   s.BytesWritten - old.BytesWritten,
		FileReads:      s.FileReads - old.FileReads,
		CacheReads:     s.CacheReads - old.CacheReads,
		UnmanagedReads: s.UnmanagedReads - old.UnmanagedReads,
	}
}

func (s Stats) IsZero() bool { return s == Stats{} }
