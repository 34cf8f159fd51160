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

package log

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig log file config.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Filename   string `json:"filename" yaml:"filename"`
	MaxSize    int    `json:"maxsize" yaml:"maxsize"`
	MaxAge     int    `json:"maxage" yaml:"maxage"`
	MaxBackups int    `json:"maxbackups" yaml:"maxbackups"`
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// NewLogWriter returns a rotating file writer, or stderr if no file name.
func NewLogWriter(cfg *LogConfig) io.WriteCloser {
	if cfg == nil || cfg.Filename == "" {
		return nopCloser{os.Stderr}
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    maxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	}
}

// Setup points the process logger at the configured writer and level,
// the returned closer releases the log file.
func Setup(cfg *LogConfig) (Logger, io.Closer) {
	w := NewLogWriter(cfg)
	lvl := Linfo
	if cfg != nil {
		lvl = ParseLevel(cfg.Level, Linfo)
	}
	SetOutput(w)
	SetOutputLevel(lvl)
	return std, w
}
