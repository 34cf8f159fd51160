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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// FileNamingStrategy maps chunk numbers to file paths under a base
// path, and finds chunk and temp files of a base path.
type FileNamingStrategy interface {
	ChunkPath(basePath string, number int64) string
	TempPath(basePath string, number int64) string
	// ListChunks returns paths of chunk files by chunk number.
	ListChunks(basePath string) (map[int64]string, error)
	ListTempFiles(basePath string) ([]string, error)
}

// DefaultFileNamingStrategy names chunk n as <prefix><n padded to Digits>.
type DefaultFileNamingStrategy struct {
	Prefix     string
	Digits     int
	TempSuffix string

	chunkGlob glob.Glob
	tempGlob  glob.Glob
}

var _ FileNamingStrategy = (*DefaultFileNamingStrategy)(nil)

func NewDefaultFileNamingStrategy(prefix string, digits int, tempSuffix string) *DefaultFileNamingStrategy {
	if digits <= 0 {
		digits = 6
	}
	if tempSuffix == "" {
		tempSuffix = ".tmp"
	}
	quoted := glob.QuoteMeta(prefix) + "[0-9]*"
	return &DefaultFileNamingStrategy{
		Prefix:     prefix,
		Digits:     digits,
		TempSuffix: tempSuffix,
		chunkGlob:  glob.MustCompile(quoted),
		tempGlob:   glob.MustCompile(quoted + glob.QuoteMeta(tempSuffix)),
	}
}

func (s *DefaultFileNamingStrategy) ChunkPath(basePath string, number int64) string {
	return filepath.Join(basePath, fmt.Sprintf("%s%0*d", s.Prefix, s.Digits, number))
}

func (s *DefaultFileNamingStrategy) TempPath(basePath string, number int64) string {
	return s.ChunkPath(basePath, number) + s.TempSuffix
}

// ParseNumber returns chunk number of a file name.
func (s *DefaultFileNamingStrategy) ParseNumber(name string) (int64, bool) {
	if s.tempGlob.Match(name) || !s.chunkGlob.Match(name) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(name, s.Prefix), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *DefaultFileNamingStrategy) ListChunks(basePath string) (map[int64]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, err
	}
	chunks := make(map[int64]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := s.ParseNumber(e.Name()); ok {
			chunks[n] = filepath.Join(basePath, e.Name())
		}
	}
	return chunks, nil
}

func (s *DefaultFileNamingStrategy) ListTempFiles(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, err
	}
	var temps []string
	for _, e := range entries {
		if !e.IsDir() && s.tempGlob.Match(e.Name()) {
			temps = append(temps, filepath.Join(basePath, e.Name()))
		}
	}
	return temps, nil
}
