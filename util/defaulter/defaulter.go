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

// Package defaulter fills zero or negative config values with defaults.
package defaulter

import (
	"fmt"
	"time"
)

// Empty sets string value to default if it's empty.
func Empty(valPointer *string, defaultVal string) {
	if *valPointer == "" {
		*valPointer = defaultVal
	}
}

// Equal sets value to default if it equals zero.
func Equal(valPointer interface{}, defaultVal interface{}) {
	set(valPointer, defaultVal, func(v float64) bool { return v == 0 })
}

// Less sets value to default if it is less than zero.
func Less(valPointer interface{}, defaultVal interface{}) {
	set(valPointer, defaultVal, func(v float64) bool { return v < 0 })
}

// LessOrEqual sets value to default if it is not greater than zero.
func LessOrEqual(valPointer interface{}, defaultVal interface{}) {
	set(valPointer, defaultVal, func(v float64) bool { return v <= 0 })
}

func set(valPointer, defaultVal interface{}, cond func(float64) bool) {
	switch p := valPointer.(type) {
	case *int:
		if cond(float64(*p)) {
			*p = defaultVal.(int)
		}
	case *int16:
		if cond(float64(*p)) {
			*p = defaultVal.(int16)
		}
	case *int32:
		if cond(float64(*p)) {
			*p = defaultVal.(int32)
		}
	case *int64:
		if cond(float64(*p)) {
			*p = defaultVal.(int64)
		}
	case *uint:
		if cond(float64(*p)) {
			*p = defaultVal.(uint)
		}
	case *uint32:
		if cond(float64(*p)) {
			*p = defaultVal.(uint32)
		}
	case *uint64:
		if cond(float64(*p)) {
			*p = defaultVal.(uint64)
		}
	case *float64:
		if cond(*p) {
			*p = defaultVal.(float64)
		}
	case *time.Duration:
		if cond(float64(*p)) {
			*p = defaultVal.(time.Duration)
		}
	default:
		panic(fmt.Sprintf("defaulter: unsupported type %T", valPointer))
	}
}
