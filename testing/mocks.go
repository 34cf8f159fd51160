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

// Package testing for mocking interfaces with `go generate`
package testing

// github.com/cubefs/infrakit/util/... util interfaces
//go:generate mockgen -destination=./mocks/util_scheduler.go -package=mocks -mock_names Scheduler=MockScheduler github.com/cubefs/infrakit/util/scheduler Scheduler

// github.com/cubefs/infrakit/remoting interfaces
//go:generate mockgen -destination=./mocks/remoting_handler.go -package=mocks -mock_names RequestHandler=MockRequestHandler,PushHandler=MockPushHandler github.com/cubefs/infrakit/remoting RequestHandler,PushHandler

import (
	// add package to go.mod for `go generate`
	_ "github.com/golang/mock/mockgen/model"
)
