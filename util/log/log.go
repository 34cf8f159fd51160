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
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	Ldebug Level = iota
	Linfo
	Lwarn
	Lerror
	Lpanic
	Lfatal
	maxLevel
)

var levelToStrings = []string{
	"[DEBUG]",
	"[INFO]",
	"[WARN]",
	"[ERROR]",
	"[PANIC]",
	"[FATAL]",
}

func (l Level) String() string {
	if l < Ldebug || l >= maxLevel {
		return fmt.Sprintf("[LEVEL(%d)]", int32(l))
	}
	return levelToStrings[l]
}

// BaseLogger defines interface of application log apis.
type BaseLogger interface {
	Printf(format string, v ...interface{})
	Println(v ...interface{})
	Debugf(format string, v ...interface{})
	Debug(v ...interface{})
	Infof(format string, v ...interface{})
	Info(v ...interface{})
	Warnf(format string, v ...interface{})
	Warn(v ...interface{})
	Errorf(format string, v ...interface{})
	Error(v ...interface{})
	Panicf(format string, v ...interface{})
	Panic(v ...interface{})
	Fatalf(format string, v ...interface{})
	Fatal(v ...interface{})
}

// Logger is a leveled logger which components hold explicitly.
type Logger interface {
	BaseLogger

	GetOutputLevel() Level
	SetOutputLevel(lvl Level)
	SetOutput(w io.Writer)
	// IsEnabled returns true if message of lvl will be written,
	// callers check it before building expensive arguments.
	IsEnabled(lvl Level) bool
}

type logger struct {
	level     int32
	calldepth int
	out       *stdlog.Logger
}

const defaultFlags = stdlog.LstdFlags | stdlog.Lmicroseconds | stdlog.Lshortfile

// New returns a logger writes to w at level.
func New(w io.Writer, lvl Level) Logger {
	return newLogger(w, lvl, 3)
}

func newLogger(w io.Writer, lvl Level, calldepth int) *logger {
	return &logger{
		level:     int32(lvl),
		calldepth: calldepth,
		out:       stdlog.New(w, "", defaultFlags),
	}
}

func (l *logger) output(lvl Level, s string) {
	if !l.IsEnabled(lvl) {
		return
	}
	l.out.Output(l.calldepth, lvl.String()+" "+s) // nolint: errcheck
}

func (l *logger) GetOutputLevel() Level { return Level(atomic.LoadInt32(&l.level)) }
func (l *logger) SetOutputLevel(lvl Level) { atomic.StoreInt32(&l.level, int32(lvl)) }
func (l *logger) SetOutput(w io.Writer) { l.out.SetOutput(w) }
func (l *logger) IsEnabled(lvl Level) bool { return lvl >= l.GetOutputLevel() }

func (l *logger) Printf(format string, v ...interface{}) {
	l.out.Output(l.calldepth-1, fmt.Sprintf(format, v...)) // nolint: errcheck
}

func (l *logger) Println(v ...interface{}) {
	l.out.Output(l.calldepth-1, fmt.Sprintln(v...)) // nolint: errcheck
}

func (l *logger) Debugf(format string, v ...interface{}) {
	if l.IsEnabled(Ldebug) {
		l.output(Ldebug, fmt.Sprintf(format, v...))
	}
}

func (l *logger) Debug(v ...interface{}) {
	if l.IsEnabled(Ldebug) {
		l.output(Ldebug, fmt.Sprintln(v...))
	}
}

func (l *logger) Infof(format string, v ...interface{}) { l.output(Linfo, fmt.Sprintf(format, v...)) }
func (l *logger) Info(v ...interface{}) { l.output(Linfo, fmt.Sprintln(v...)) }
func (l *logger) Warnf(format string, v ...interface{}) { l.output(Lwarn, fmt.Sprintf(format, v...)) }
func (l *logger) Warn(v ...interface{}) { l.output(Lwarn, fmt.Sprintln(v...)) }

func (l *logger) Errorf(format string, v ...interface{}) {
	l.output(Lerror, fmt.Sprintf(format, v...))
}

func (l *logger) Error(v ...interface{}) {
	l.output(Lerror, fmt.Sprintln(v...))
}

func (l *logger) Panicf(format string, v ...interface{}) {
	s := fmt.Sprintf(format, v...)
	l.output(Lpanic, s)
	panic(s)
}

func (l *logger) Panic(v ...interface{}) {
	s := fmt.Sprintln(v...)
	l.output(Lpanic, s)
	panic(s)
}

func (l *logger) Fatalf(format string, v ...interface{}) {
	l.output(Lfatal, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (l *logger) Fatal(v ...interface{}) {
	l.output(Lfatal, fmt.Sprintln(v...))
	os.Exit(1)
}

// std is one more frame away from the caller.
var std = newLogger(os.Stderr, Linfo, 4)

// DefaultLogger returns the process logger, used by components which
// are not given one.
func DefaultLogger() Logger { return std }

func Printf(format string, v ...interface{}) { std.Printf(format, v...) }
func Println(v ...interface{}) { std.Println(v...) }
func Debugf(format string, v ...interface{}) { std.Debugf(format, v...) }
func Debug(v ...interface{}) { std.Debug(v...) }
func Infof(format string, v ...interface{}) { std.Infof(format, v...) }
func Info(v ...interface{}) { std.Info(v...) }
func Warnf(format string, v ...interface{}) { std.Warnf(format, v...) }
func Warn(v ...interface{}) { std.Warn(v...) }
func Errorf(format string, v ...interface{}) { std.Errorf(format, v...) }
func Error(v ...interface{}) { std.Error(v...) }
func Panicf(format string, v ...interface{}) { std.Panicf(format, v...) }
func Panic(v ...interface{}) { std.Panic(v...) }
func Fatalf(format string, v ...interface{}) { std.Fatalf(format, v...) }
func Fatal(v ...interface{}) { std.Fatal(v...) }

func GetOutputLevel() Level { return std.GetOutputLevel() }
func SetOutputLevel(lvl Level) { std.SetOutputLevel(lvl) }
func SetOutput(w io.Writer) { std.SetOutput(w) }

// ParseLevel returns level of name, defaultLevel if unknown.
func ParseLevel(levelName string, defaultLevel Level) Level {
	switch strings.ToLower(levelName) {
	case "debug":
		return Ldebug
	case "info":
		return Linfo
	case "warn", "warning":
		return Lwarn
	case "error":
		return Lerror
	case "panic", "critical":
		return Lpanic
	case "fatal":
		return Lfatal
	default:
		return defaultLevel
	}
}
