// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package exec contains the per-element execution core: invoker selection,
// argument binding, output routing and split coordination for a single
// DoFn instance inside a bundle.
package exec

import "fmt"

// Status is the status of a DoFnRunner.
type Status int

const (
	Initializing Status = iota
	Up
	Active
	Broken
	Down
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Up:
		return "Up"
	case Active:
		return "Active"
	case Broken:
		return "Broken"
	case Down:
		return "Down"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}
